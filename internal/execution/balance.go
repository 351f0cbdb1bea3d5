package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/id"
)

// TokenAddress returns the contract address, or the zero address for the
// native coin.
func TokenAddress(token id.Token) common.Address {
	if token.IsNative() {
		return common.Address{}
	}
	return common.HexToAddress(token.Address)
}

func ReadBalance(ctx context.Context, w Wallet, token id.Token) (id.Amount, error) {
	value, err := w.BalanceOf(ctx, TokenAddress(token))
	if err != nil {
		return id.Amount{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read %s balance", token.Symbol), err)
	}
	return id.NewAmount(value, token), nil
}

// RequireAmount fails with an insufficient-balance error when available is
// below required. Both sides are rendered at available's precision.
func RequireAmount(subject string, required, available id.Amount) error {
	scaled := required.Rescale(id.Token{Symbol: available.Symbol, Decimals: available.Decimals})
	if available.Cmp(scaled) >= 0 {
		return nil
	}
	return clierr.InsufficientBalance(subject, scaled.Fixed(), available.Fixed())
}

// RequireBalance checks the wallet holds at least required of token.
func RequireBalance(ctx context.Context, w Wallet, token id.Token, required id.Amount) (id.Amount, error) {
	available, err := ReadBalance(ctx, w, token)
	if err != nil {
		return id.Amount{}, err
	}
	return available, RequireAmount(token.Symbol+" balance", required, available)
}

// BalanceCheck is RequireBalance as a bundle precondition.
func BalanceCheck(token id.Token, required id.Amount) Precondition {
	return func(ctx context.Context, w Wallet) error {
		_, err := RequireBalance(ctx, w, token, required)
		return err
	}
}

// AllowanceCheck fails when the allowance of spender no longer covers amount.
func AllowanceCheck(token id.Token, spender common.Address, amount id.Amount) Precondition {
	return func(ctx context.Context, w Wallet) error {
		current, err := ReadAllowance(ctx, w, token, spender)
		if err != nil {
			return err
		}
		if current.Cmp(amount.Value) < 0 {
			return clierr.InsufficientAllowance(token.Symbol, spender.Hex(), amount.Fixed(), id.NewAmount(current, token).Fixed())
		}
		return nil
	}
}

func ReadAllowance(ctx context.Context, w Wallet, token id.Token, spender common.Address) (*big.Int, error) {
	return ReadUint(ctx, w, erc20ABI, TokenAddress(token), "allowance", w.Address(), spender)
}

// AppendApprovalIfNeeded adds an exact-amount approve step when the current
// allowance does not cover amount. With autoApprove off a short allowance is
// reported instead.
func AppendApprovalIfNeeded(ctx context.Context, w Wallet, action *Action, token id.Token, spender common.Address, amount id.Amount, autoApprove bool) error {
	if token.IsNative() {
		return nil
	}
	current, err := ReadAllowance(ctx, w, token, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount.Value) >= 0 {
		action.Require(AllowanceCheck(token, spender, amount))
		return nil
	}
	if !autoApprove {
		return clierr.InsufficientAllowance(token.Symbol, spender.Hex(), amount.Fixed(), id.NewAmount(current, token).Fixed())
	}
	data, err := Pack(erc20ABI, "approve", spender, amount.Value)
	if err != nil {
		return err
	}
	action.AddCall(
		fmt.Sprintf("approve-%s", token.Symbol),
		StepTypeApproval,
		fmt.Sprintf("Approve %s %s for %s", amount.String(), token.Symbol, spender.Hex()),
		TokenAddress(token),
		data,
		nil,
	)
	return nil
}
