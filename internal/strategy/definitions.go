package strategy

import (
	"context"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
)

// DeriveInput is what a step sees when computing its amount.
type DeriveInput struct {
	Start    id.Amount
	Previous id.Amount
	Token    id.Token
	Prices   providers.PriceSource
	Wallet   execution.Wallet
}

type DeriveFunc func(ctx context.Context, in DeriveInput) (id.Amount, error)

// StepSpec is one step of a strategy. Token is the symbol the step spends.
type StepSpec struct {
	ActionID    string
	Token       string
	Description string
	Derive      DeriveFunc
}

type Definition struct {
	ID          string
	Description string
	StartToken  string
	Steps       []StepSpec
}

func (d Definition) ActionID() string {
	return "execute-" + d.ID
}

func (d Definition) Listing() model.StrategyListing {
	steps := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, s.Description)
	}
	return model.StrategyListing{
		ID:          d.ID,
		ActionID:    d.ActionID(),
		Description: d.Description,
		StartToken:  d.StartToken,
		Steps:       steps,
	}
}

// Previous passes the prior step's output through unchanged.
func Previous(_ context.Context, in DeriveInput) (id.Amount, error) {
	return in.Previous, nil
}

// ShareOfPrevious takes bps/10000 of the prior output.
func ShareOfPrevious(bps int64) DeriveFunc {
	return func(_ context.Context, in DeriveInput) (id.Amount, error) {
		return in.Previous.MulBps(bps), nil
	}
}

// PricedShareOfPrevious takes bps/10000 of the prior output and converts it
// into the step token through the price source.
func PricedShareOfPrevious(bps int64) DeriveFunc {
	return func(ctx context.Context, in DeriveInput) (id.Amount, error) {
		if in.Prices == nil {
			return id.Amount{}, clierr.New(clierr.CodeUnsupported, "no price source is configured for cross-token amounts")
		}
		return in.Prices.Convert(ctx, in.Wallet, in.Previous.MulBps(bps), in.Token)
	}
}

// Builtins are the strategies shipped with the engine.
func Builtins() []Definition {
	return []Definition{
		{
			ID:          "machfi-delta-neutral",
			Description: "Supply USDC.e on MachFi, borrow S worth half of it, wrap and park the wS in the default vault",
			StartToken:  "USDC.e",
			Steps: []StepSpec{
				{ActionID: "supply", Token: "USDC.e", Description: "Supply USDC.e to MachFi", Derive: Previous},
				{ActionID: "borrow", Token: "S", Description: "Borrow S worth 50% of the supplied USDC.e", Derive: PricedShareOfPrevious(5_000)},
				{ActionID: "wrap-s", Token: "S", Description: "Wrap the borrowed S", Derive: Previous},
				{ActionID: "deposit", Token: "wS", Description: "Deposit wS into the vault", Derive: Previous},
			},
		},
		{
			ID:          "wrap-and-deposit",
			Description: "Wrap S and deposit the wS into the default vault",
			StartToken:  "S",
			Steps: []StepSpec{
				{ActionID: "wrap-s", Token: "S", Description: "Wrap S", Derive: Previous},
				{ActionID: "deposit", Token: "wS", Description: "Deposit wS into the vault", Derive: Previous},
			},
		},
	}
}
