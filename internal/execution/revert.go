package execution

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

// compoundErrorCodes is the TokenErrorReporter enum returned by Compound v2
// style markets.
var compoundErrorCodes = map[int64]string{
	1:  "unauthorized",
	2:  "bad input",
	3:  "comptroller rejection",
	4:  "comptroller calculation error",
	5:  "interest rate model error",
	9:  "math error",
	10: "market not fresh",
	11: "market not listed",
	12: "insufficient allowance",
	13: "insufficient balance",
	14: "insufficient market cash",
	15: "token transfer in failed",
	16: "token transfer out failed",
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("custom error 0x%s", hex.EncodeToString(data[:4]))
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(data))
	case []byte:
		return decodeRevertData(data)
	default:
		return ""
	}
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return clierr.Wrap(code, message, err)
}

func normalizeStepTxHash(v string) (common.Hash, bool) {
	clean := strings.TrimSpace(v)
	if !strings.HasPrefix(clean, "0x") || len(clean) != 66 {
		return common.Hash{}, false
	}
	if _, err := hex.DecodeString(clean[2:]); err != nil {
		return common.Hash{}, false
	}
	return common.HexToHash(clean), true
}

// compoundReturnError inspects the uint returned by a simulated
// Compound-style call. Nil means the call reported success.
func compoundReturnError(ret []byte) error {
	if len(ret) < 32 {
		return nil
	}
	code := new(big.Int).SetBytes(ret[:32])
	if code.Sign() == 0 {
		return nil
	}
	reason, ok := compoundErrorCodes[code.Int64()]
	if !ok {
		reason = "unknown failure"
	}
	return NormalizeChainError(fmt.Errorf("market returned error code %s (%s)", code.String(), reason))
}

// NormalizeChainError maps raw RPC and revert failures onto the contract
// execution taxonomy. Errors that already carry a precise code are kept.
func NormalizeChainError(err error) error {
	if err == nil {
		return nil
	}
	if typed, ok := clierr.As(err); ok {
		switch typed.Code {
		case clierr.CodeUsage, clierr.CodeInsufficientBalance, clierr.CodeInsufficientAllowance,
			clierr.CodeContractExecution, clierr.CodeActionTimeout, clierr.CodeSigner, clierr.CodeBlocked:
			return err
		}
	}
	msg := strings.ToLower(err.Error())
	var cause string
	switch {
	case containsAny(msg, "insufficient funds", "exceeds balance", "insufficient balance", "insufficient market cash"):
		cause = "insufficient balance"
	case containsAny(msg, "allowance"):
		cause = "insufficient allowance"
	case containsAny(msg, "exceeds", "limit", "comptroller rejection"):
		cause = "exceeds limit"
	case containsAny(msg, "contract not found", "no contract code", "not a contract", "code size"):
		cause = "contract not found"
	default:
		return clierr.Wrap(clierr.CodeContractExecution, "chain execution failed", err)
	}
	return clierr.Wrap(clierr.CodeContractExecution, cause, err)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
