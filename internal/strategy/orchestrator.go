// Package strategy runs fixed multi-step strategies, one confirmed step at a
// time, stopping at the first failure.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/observability"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type RunStatus string

type StepStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"

	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

type StepResult struct {
	Index       int        `json:"index"`
	ActionID    string     `json:"action_id"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
	Provider    string     `json:"provider,omitempty"`
	Operation   string     `json:"operation,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	Token       string     `json:"token,omitempty"`
	Output      string     `json:"output,omitempty"`
	TxHashes    []string   `json:"tx_hashes,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Run is the outcome of one strategy execution. Steps are in execution
// order; a failed step is always the last one.
type Run struct {
	ID          string       `json:"id"`
	Strategy    string       `json:"strategy"`
	Status      RunStatus    `json:"status"`
	StartAmount string       `json:"start_amount"`
	Steps       []StepResult `json:"steps"`
	// Error explains an abort that happened between steps.
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TxHashes lists every hash the run emitted, failed steps included.
func (r Run) TxHashes() []string {
	out := []string{}
	for _, s := range r.Steps {
		out = append(out, s.TxHashes...)
	}
	return out
}

// Failed returns the failed step, if any.
func (r Run) Failed() (StepResult, bool) {
	if n := len(r.Steps); n > 0 && r.Steps[n-1].Status == StepFailed {
		return r.Steps[n-1], true
	}
	return StepResult{}, false
}

type Orchestrator struct {
	resolver *resolver.Resolver
	prices   providers.PriceSource
	defs     map[string]Definition
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Orchestrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithDefinitions replaces the built-in strategies.
func WithDefinitions(defs ...Definition) Option {
	return func(o *Orchestrator) {
		o.defs = map[string]Definition{}
		for _, d := range defs {
			o.defs[strings.ToLower(d.ID)] = d
		}
	}
}

func New(res *resolver.Resolver, prices providers.PriceSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: res,
		prices:   prices,
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return "run_" + uuid.NewString() },
	}
	WithDefinitions(Builtins()...)(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Lookup finds a strategy by id or by its execute-<id> action id.
func (o *Orchestrator) Lookup(strategyID string) (Definition, bool) {
	norm := strings.ToLower(strings.TrimSpace(strategyID))
	def, ok := o.defs[strings.TrimPrefix(norm, "execute-")]
	return def, ok
}

func (o *Orchestrator) Definitions() []Definition {
	out := make([]Definition, 0, len(o.defs))
	for _, d := range o.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run executes every step of the strategy in order. Errors are returned only
// for problems found before step 0; afterwards failures are recorded on the
// run, which is returned Aborted.
func (o *Orchestrator) Run(ctx context.Context, strategyID, startAmount string, w execution.Wallet) (Run, error) {
	def, ok := o.Lookup(strategyID)
	if !ok {
		return Run{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown strategy %q", strategyID))
	}
	if w == nil {
		return Run{}, clierr.New(clierr.CodeSigner, "strategy execution requires a wallet")
	}
	chain := o.resolver.Chain()
	tokens, err := stepTokens(chain, def)
	if err != nil {
		return Run{}, err
	}
	startToken, ok := id.LookupToken(chain, def.StartToken)
	if !ok {
		return Run{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("strategy %s needs %s, which is not available on %s", def.ID, def.StartToken, chain.Slug))
	}
	start, err := id.ParseAmount(startAmount, startToken)
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:          o.newID(),
		Strategy:    def.ID,
		Status:      RunRunning,
		StartAmount: start.String() + " " + startToken.Symbol,
		Steps:       make([]StepResult, 0, len(def.Steps)),
		StartedAt:   o.now(),
	}
	logger := o.logger.With().Str("run_id", run.ID).Str("strategy", def.ID).Logger()
	logger.Info().Str("start", run.StartAmount).Msg("strategy started")

	previous := start
	for i, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			run.Error = fmt.Sprintf("cancelled before step %d: %v", i, err)
			return o.finish(logger, run, RunAborted), nil
		}
		// A started step runs to its receipt; the wallet's receipt timeout
		// bounds it.
		result, output := o.runStep(context.WithoutCancel(ctx), i, step, tokens[i], start, previous, w)
		run.Steps = append(run.Steps, result)
		observability.StrategyStepsTotal.WithLabelValues(def.ID, string(result.Status)).Inc()
		if result.Status == StepFailed {
			logger.Warn().Int("step", i).Str("action_id", step.ActionID).Str("kind", result.ErrorKind).Str("error", result.Error).Strs("tx_hashes", result.TxHashes).Msg("strategy step failed")
			return o.finish(logger, run, RunAborted), nil
		}
		logger.Info().Int("step", i).Str("action_id", step.ActionID).Str("amount", result.Amount).Strs("tx_hashes", result.TxHashes).Msg("strategy step confirmed")
		previous = output
	}
	return o.finish(logger, run, RunCompleted), nil
}

func (o *Orchestrator) finish(logger zerolog.Logger, run Run, status RunStatus) Run {
	run.Status = status
	run.FinishedAt = o.now()
	observability.StrategyRunsTotal.WithLabelValues(run.Strategy, string(status)).Inc()
	logger.Info().Str("status", string(status)).Int("steps", len(run.Steps)).Msg("strategy finished")
	return run
}

// runStep derives, validates, resolves and executes one step. The returned
// amount feeds the next step.
func (o *Orchestrator) runStep(ctx context.Context, index int, step StepSpec, token id.Token, start, previous id.Amount, w execution.Wallet) (StepResult, id.Amount) {
	result := StepResult{Index: index, ActionID: step.ActionID, Description: step.Description, Token: token.Symbol}
	fail := func(err error) (StepResult, id.Amount) {
		result.Status = StepFailed
		result.ErrorKind = clierr.Kind(err)
		result.Error = err.Error()
		return result, id.Amount{}
	}

	amount, err := step.Derive(ctx, DeriveInput{Start: start, Previous: previous, Token: token, Prices: o.prices, Wallet: w})
	if err != nil {
		return fail(err)
	}
	amount = amount.Rescale(token)
	result.Amount = amount.Fixed()
	if err := id.CheckFloor(amount, token); err != nil {
		return fail(err)
	}

	params := providers.StructuredParams(map[string]any{"amount": amount.String(), "token": token.Symbol})
	h := o.resolver.Resolve(step.ActionID, params)
	if !h.Concrete() {
		return fail(clierr.New(clierr.CodeResolution, fmt.Sprintf("step %q did not resolve to a provider operation", step.ActionID)))
	}
	result.Provider = h.Provider
	result.Operation = h.Operation

	res, err := h.Execute(ctx, w)
	result.TxHashes = res.TxHashes
	if err != nil {
		return fail(err)
	}
	result.Status = StepSuccess
	result.Output = res.Message
	if res.Output != nil && !res.Output.IsZero() {
		return result, *res.Output
	}
	return result, amount
}

func stepTokens(chain id.Chain, def Definition) ([]id.Token, error) {
	out := make([]id.Token, 0, len(def.Steps))
	for _, step := range def.Steps {
		token, ok := id.LookupToken(chain, step.Token)
		if !ok {
			return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("strategy %s needs %s, which is not available on %s", def.ID, step.Token, chain.Slug))
		}
		out = append(out, token)
	}
	return out, nil
}
