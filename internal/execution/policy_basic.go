package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

var (
	approveSelector      = erc20ABI.Methods["approve"].ID
	wrapDepositSelector  = wrappedNativeABI.Methods["deposit"].ID
	wrapWithdrawSelector = wrappedNativeABI.Methods["withdraw"].ID
)

func validateStepPolicy(action *Action, step *ActionStep, data []byte, opts ExecuteOptions) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing action step")
	}
	if !common.IsHexAddress(step.Target) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}
	if _, ok := new(big.Int).SetString(step.Value, 10); !ok {
		return clierr.New(clierr.CodeUsage, "invalid step value")
	}
	switch step.Type {
	case StepTypeApproval:
		return validateApprovalPolicy(action, data, opts)
	case StepTypeWrap:
		return validateWrapPolicy(data)
	default:
		return nil
	}
}

// Approvals are bounded by the action's input amount unless max approvals
// were explicitly allowed.
func validateApprovalPolicy(action *Action, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 || !bytes.Equal(data[:4], approveSelector) {
		return clierr.New(clierr.CodeActionPlan, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPlan, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid approval amount")
	}
	if opts.AllowMaxApproval {
		return nil
	}
	requested, ok := parsePositiveBaseUnits(action.InputAmount)
	if !ok {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds for non-numeric input amount")
	}
	if amount.Cmp(requested) > 0 {
		return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("approval amount %s exceeds requested input amount %s; use --allow-max-approval to override", amount.String(), requested.String()))
	}
	return nil
}

func validateWrapPolicy(data []byte) error {
	if len(data) < 4 {
		return clierr.New(clierr.CodeActionPlan, "wrap step is missing calldata")
	}
	if !bytes.Equal(data[:4], wrapDepositSelector) && !bytes.Equal(data[:4], wrapWithdrawSelector) {
		return clierr.New(clierr.CodeActionPlan, "wrap step must call deposit() or withdraw(amount)")
	}
	return nil
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}
