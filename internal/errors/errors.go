package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeBlocked       Code = 16
	CodeSigner        Code = 17
	CodeActionPlan    Code = 18
	CodeActionSim     Code = 19
	CodeActionTimeout Code = 20

	CodeInsufficientBalance   Code = 21
	CodeInsufficientAllowance Code = 22
	CodeContractExecution     Code = 23
	CodeResolution            Code = 24
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Code == code {
			return true
		}
		err = typed.Cause
	}
	return false
}

// Kind maps an error onto the engine taxonomy name used in step results and
// user-facing responses.
func Kind(err error) string {
	switch CodeOf(err) {
	case CodeSuccess:
		return ""
	case CodeUsage:
		return "validation_error"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeInsufficientAllowance:
		return "insufficient_allowance"
	case CodeContractExecution, CodeActionSim:
		return "contract_execution_error"
	case CodeResolution:
		return "resolution_error"
	case CodeActionTimeout:
		return "timeout_error"
	case CodeBlocked:
		return "blocked"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeSigner:
		return "signer_error"
	case CodeActionPlan:
		return "action_plan_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// InsufficientBalance reports a failed balance precondition. Amounts are
// expected to be pre-formatted at the token's declared precision.
func InsufficientBalance(subject, required, available string) *Error {
	return New(CodeInsufficientBalance, fmt.Sprintf("insufficient %s: required: %s, available: %s", subject, required, available))
}

// InsufficientAllowance reports a failed allowance precondition.
func InsufficientAllowance(symbol, spender, required, available string) *Error {
	return New(CodeInsufficientAllowance, fmt.Sprintf("insufficient %s allowance for %s: required: %s, available: %s", symbol, spender, required, available))
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
