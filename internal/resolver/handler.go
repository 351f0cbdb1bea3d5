package resolver

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
)

type Tier int

const (
	TierDirect Tier = iota + 1
	TierConvention
	TierSelfDescription
	TierHeuristic
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierConvention:
		return "convention"
	case TierSelfDescription:
		return "self-description"
	case TierHeuristic:
		return "heuristic"
	case TierFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Interpreter executes a free-text instruction when no concrete operation
// matches an action id.
type Interpreter interface {
	Interpret(ctx context.Context, w execution.Wallet, instruction string) (providers.Result, error)
}

// Handler is the outcome of resolving one request. It is derived per request
// and never cached.
type Handler struct {
	ActionID  string
	Provider  string
	Operation string
	Tier      Tier
	Params    providers.Params
	// Instruction is set on fallback handlers only.
	Instruction string

	execute     providers.Executor
	interpreter Interpreter
}

// Concrete reports whether the handler is bound to a provider operation
// rather than the fallback interpreter.
func (h Handler) Concrete() bool {
	return h.Tier != TierFallback && h.execute != nil
}

func (h Handler) Execute(ctx context.Context, w execution.Wallet) (providers.Result, error) {
	if h.Concrete() {
		return h.execute(ctx, w, h.Params)
	}
	if h.interpreter == nil {
		return providers.Result{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("no operation matches %q and no interpreter is configured", h.ActionID))
	}
	res, err := h.interpreter.Interpret(ctx, w, h.Instruction)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeResolution, fmt.Sprintf("no operation matches %q and the interpreter could not handle it", h.ActionID), err)
	}
	return res, nil
}

func (h Handler) Resolution() model.Resolution {
	return model.Resolution{
		ActionID:  h.ActionID,
		Provider:  h.Provider,
		Operation: h.Operation,
		Tier:      h.Tier.String(),
		Params:    h.Params.Values(),
	}
}

func bind(actionID string, tier Tier, p providers.Provider, op providers.Operation, params providers.Params) Handler {
	return Handler{
		ActionID:  actionID,
		Provider:  p.Info().Name,
		Operation: op.Name,
		Tier:      tier,
		Params:    params,
		execute:   op.Execute,
	}
}
