package execution

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	if reason := decodeRevertData(encodeErrorString(t, "slippage too high")); reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "insufficient output amount")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeActionSim, "simulate swap", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) {
		t.Fatalf("expected typed error, got %T", wrapped)
	}
	if !strings.Contains(typed.Error(), "insufficient output amount") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestNormalizeChainErrorCauses(t *testing.T) {
	cases := map[string]string{
		"insufficient funds for gas * price + value": "insufficient balance",
		"ERC20: transfer amount exceeds balance":     "insufficient balance",
		"ERC20: insufficient allowance":              "insufficient allowance",
		"borrow cap exceeds limit":                   "exceeds limit",
		"no contract code at given address":          "contract not found",
		"something nobody has seen before":           "chain execution failed",
	}
	for raw, want := range cases {
		err := NormalizeChainError(errors.New(raw))
		if clierr.CodeOf(err) != clierr.CodeContractExecution {
			t.Fatalf("%q: expected contract execution code, got %v", raw, err)
		}
		if !strings.HasPrefix(err.Error(), want) {
			t.Fatalf("%q: expected cause %q, got %q", raw, want, err.Error())
		}
		if !strings.Contains(err.Error(), raw) {
			t.Fatalf("%q: expected raw message to be preserved, got %q", raw, err.Error())
		}
	}
}

func TestNormalizeChainErrorKeepsPreciseCodes(t *testing.T) {
	timeout := clierr.New(clierr.CodeActionTimeout, "timed out waiting for receipt")
	if got := NormalizeChainError(timeout); clierr.CodeOf(got) != clierr.CodeActionTimeout {
		t.Fatalf("expected timeout code to survive, got %v", got)
	}
}

func TestCompoundReturnError(t *testing.T) {
	if err := compoundReturnError(common.LeftPadBytes([]byte{0}, 32)); err != nil {
		t.Fatalf("expected zero code to succeed, got %v", err)
	}
	err := compoundReturnError(common.LeftPadBytes(big.NewInt(13).Bytes(), 32))
	if err == nil || !strings.HasPrefix(err.Error(), "insufficient balance") {
		t.Fatalf("expected normalized balance failure, got %v", err)
	}
	if err := compoundReturnError(nil); err != nil {
		t.Fatalf("expected empty return to be treated as success, got %v", err)
	}
}

func TestNormalizeStepTxHash(t *testing.T) {
	if _, ok := normalizeStepTxHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); !ok {
		t.Fatal("expected valid tx hash to parse")
	}
	if _, ok := normalizeStepTxHash("0x1234"); ok {
		t.Fatal("expected short tx hash to fail")
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	unlock := acquireSignerNonceLock(big.NewInt(146), addr)
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(146), addr)
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func TestValidateApprovalPolicyBounded(t *testing.T) {
	spender := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	action := &Action{InputAmount: "100"}
	step := &ActionStep{Type: StepTypeApproval, Target: "0x00000000000000000000000000000000000000cd", Value: "0"}

	ok, _ := erc20ABI.Pack("approve", spender, big.NewInt(100))
	if err := validateStepPolicy(action, step, ok, ExecuteOptions{}); err != nil {
		t.Fatalf("expected bounded approval to pass, got err=%v", err)
	}
	tooBig, _ := erc20ABI.Pack("approve", spender, big.NewInt(101))
	err := validateStepPolicy(action, step, tooBig, ExecuteOptions{})
	if err == nil || !strings.Contains(err.Error(), "allow-max-approval") {
		t.Fatalf("expected override hint, got err=%v", err)
	}
	if err := validateStepPolicy(action, step, tooBig, ExecuteOptions{AllowMaxApproval: true}); err != nil {
		t.Fatalf("expected approval override to pass, got err=%v", err)
	}
}

func TestValidateWrapPolicyRequiresWrapSelector(t *testing.T) {
	step := &ActionStep{Type: StepTypeWrap, Target: "0x00000000000000000000000000000000000000cd", Value: "1"}
	deposit, _ := wrappedNativeABI.Pack("deposit")
	if err := validateStepPolicy(&Action{}, step, deposit, ExecuteOptions{}); err != nil {
		t.Fatalf("expected deposit() to pass, got %v", err)
	}
	approve, _ := erc20ABI.Pack("approve", common.HexToAddress("0x01"), big.NewInt(1))
	if err := validateStepPolicy(&Action{}, step, approve, ExecuteOptions{}); err == nil {
		t.Fatal("expected non-wrap calldata to be rejected")
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
