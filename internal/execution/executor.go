package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

type ExecuteOptions struct {
	Simulate         bool
	AllowMaxApproval bool
	// LockDir enables the cross-process wallet lock when set.
	LockDir     string
	LockTimeout time.Duration
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{Simulate: true, LockTimeout: 30 * time.Second}
}

// ExecuteAction submits every pending step in order and waits for each
// receipt before moving on. The wallet is locked for the whole bundle.
// Steps already submitted keep their tx hash when a later step fails.
func ExecuteAction(ctx context.Context, w Wallet, action *Action, opts ExecuteOptions) error {
	if action == nil {
		return clierr.New(clierr.CodeInternal, "missing action")
	}
	if w == nil {
		return clierr.New(clierr.CodeSigner, "missing wallet")
	}
	if len(action.Steps) == 0 {
		return clierr.New(clierr.CodeUsage, "action has no executable steps")
	}

	calldata := make([][]byte, len(action.Steps))
	for i := range action.Steps {
		step := &action.Steps[i]
		data, err := decodeHex(step.Data)
		if err != nil {
			markStepFailed(action, step, err.Error())
			return clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
		}
		if err := validateStepPolicy(action, step, data, opts); err != nil {
			markStepFailed(action, step, err.Error())
			return err
		}
		calldata[i] = data
	}

	unlock, err := lockWallet(ctx, w, opts.LockDir, opts.LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	for _, check := range action.checks {
		if err := check(ctx, w); err != nil {
			action.Status = ActionStatusFailed
			action.Touch()
			return err
		}
	}

	action.Status = ActionStatusRunning
	action.FromAddress = w.Address().Hex()
	action.Touch()

	for i := range action.Steps {
		step := &action.Steps[i]
		if step.Status == StepStatusConfirmed {
			continue
		}
		if err := executeStep(ctx, w, step, calldata[i], opts); err != nil {
			markStepFailed(action, step, err.Error())
			return err
		}
		action.Touch()
	}
	action.Status = ActionStatusCompleted
	action.Touch()
	return nil
}

func executeStep(ctx context.Context, w Wallet, step *ActionStep, data []byte, opts ExecuteOptions) error {
	target := common.HexToAddress(step.Target)
	value, _ := new(big.Int).SetString(step.Value, 10)

	if opts.Simulate {
		ret, err := w.ReadContract(ctx, CallRequest{To: target, Data: data, Value: value})
		if err != nil {
			return NormalizeChainError(wrapEVMExecutionError(clierr.CodeActionSim, fmt.Sprintf("simulate %s", step.StepID), err))
		}
		if step.ExpectZeroReturn {
			if err := compoundReturnError(ret); err != nil {
				return err
			}
		}
		step.Status = StepStatusSimulated
	}

	hash, err := w.SendTransaction(ctx, TxRequest{To: target, Data: data, Value: value})
	if err != nil {
		return NormalizeChainError(err)
	}
	step.Status = StepStatusSubmitted
	step.TxHash = hash.Hex()

	receipt, err := w.WaitForTransactionReceipt(ctx, hash)
	if err != nil {
		return NormalizeChainError(err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return clierr.New(clierr.CodeContractExecution, fmt.Sprintf("transaction %s reverted on-chain", hash.Hex()))
	}
	step.Status = StepStatusConfirmed
	return nil
}

func markStepFailed(action *Action, step *ActionStep, msg string) {
	step.Status = StepStatusFailed
	step.Error = msg
	action.Status = ActionStatusFailed
	action.Touch()
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
