// Package resolver maps an action id and its parameters onto a provider
// operation through an ordered list of tiers, handing anything unmatched to
// a natural-language interpreter.
package resolver

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/observability"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/rs/zerolog"
)

type Resolver struct {
	registry    *providers.Registry
	chain       id.Chain
	tiers       []Strategy
	interpreter Interpreter
	logger      zerolog.Logger
}

type Option func(*Resolver)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithTiers replaces the default tier list. The fallback tier always runs
// last and cannot be removed.
func WithTiers(tiers ...Strategy) Option {
	return func(r *Resolver) { r.tiers = tiers }
}

func New(registry *providers.Registry, chain id.Chain, interpreter Interpreter, opts ...Option) *Resolver {
	r := &Resolver{
		registry:    registry,
		chain:       chain,
		tiers:       DefaultTiers(),
		interpreter: interpreter,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Registry() *providers.Registry { return r.registry }

func (r *Resolver) Chain() id.Chain { return r.chain }

// Resolve never fails: when no tier matches, the returned handler delegates
// to the interpreter and reports its failure at execution time.
func (r *Resolver) Resolve(actionID string, params providers.Params) Handler {
	if r.registry != nil {
		for _, tier := range r.tiers {
			if h, ok := tier.TryResolve(r.registry, r.chain, actionID, params); ok {
				r.observe(h)
				return h
			}
		}
	}
	h := Handler{
		ActionID:    actionID,
		Tier:        TierFallback,
		Params:      params,
		Instruction: Instruction(actionID, params, r.chain),
		interpreter: r.interpreter,
	}
	r.observe(h)
	return h
}

func (r *Resolver) observe(h Handler) {
	observability.ResolutionsTotal.WithLabelValues(h.Tier.String()).Inc()
	r.logger.Debug().
		Str("action_id", h.ActionID).
		Str("tier", h.Tier.String()).
		Str("provider", h.Provider).
		Str("operation", h.Operation).
		Str("params", h.Params.Kind.String()).
		Msg("action resolved")
}

// Instruction serializes an unmatched request into free text for the
// interpreter.
func Instruction(actionID string, params providers.Params, chain id.Chain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Perform the action %q", strings.TrimSpace(actionID))
	if chain.Name != "" {
		fmt.Fprintf(&b, " on %s", chain.Name)
	}
	if p := params.String(); p != "" {
		fmt.Fprintf(&b, " with parameters: %s", p)
	}
	return b.String()
}
