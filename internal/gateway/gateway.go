// Package gateway is the single entry point for action requests. It gates
// implicit money-moving requests, routes strategies to the orchestrator and
// everything else to the resolver, and always answers with text.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/observability"
	"github.com/ggonzalez94/sonic-agent/internal/policy"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/rs/zerolog"
)

type Request struct {
	ActionID string `json:"action_id"`
	// RawParams is free-form text: empty, positional values or a JSON object.
	RawParams string `json:"params,omitempty"`
	// Fields takes precedence over RawParams when set.
	Fields          map[string]any `json:"fields,omitempty"`
	Source          policy.Source  `json:"source,omitempty"`
	SafePassThrough bool           `json:"safe_pass_through,omitempty"`
}

type Kind string

const (
	KindAction   Kind = "action"
	KindStrategy Kind = "strategy"
)

type Response struct {
	ActionID   string            `json:"action_id"`
	Kind       Kind              `json:"kind"`
	OK         bool              `json:"ok"`
	Blocked    bool              `json:"blocked,omitempty"`
	Text       string            `json:"text"`
	Resolution *model.Resolution `json:"resolution,omitempty"`
	Result     *providers.Result `json:"result,omitempty"`
	Run        *strategy.Run     `json:"run,omitempty"`
	ErrorCode  clierr.Code       `json:"error_code,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
}

// TxHashes lists every transaction the request submitted.
func (r Response) TxHashes() []string {
	switch {
	case r.Run != nil:
		return r.Run.TxHashes()
	case r.Result != nil:
		return append([]string(nil), r.Result.TxHashes...)
	}
	return nil
}

// RunRecorder observes finished strategy runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run strategy.Run) error
}

type Gateway struct {
	resolver     *resolver.Resolver
	orchestrator *strategy.Orchestrator
	wallet       execution.Wallet
	recorder     RunRecorder
	logger       zerolog.Logger
}

type Option func(*Gateway)

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithRecorder(rec RunRecorder) Option {
	return func(g *Gateway) { g.recorder = rec }
}

// New wires a gateway. The wallet may be nil, in which case every request
// that reaches a provider fails with a signer error.
func New(res *resolver.Resolver, orch *strategy.Orchestrator, w execution.Wallet, opts ...Option) *Gateway {
	g := &Gateway{resolver: res, orchestrator: orch, wallet: w, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute dispatches req and returns the user-facing text.
func (g *Gateway) Execute(ctx context.Context, req Request) string {
	return g.Dispatch(ctx, req).Text
}

// Dispatch never returns an error: failures, refusals and panics are all
// folded into the response.
func (g *Gateway) Dispatch(ctx context.Context, req Request) (resp Response) {
	started := time.Now()
	req.ActionID = strings.TrimSpace(req.ActionID)
	resp = Response{ActionID: req.ActionID, Kind: KindAction}
	if _, ok := g.strategy(req.ActionID); ok {
		resp.Kind = KindStrategy
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Str("action_id", req.ActionID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("request panicked")
			resp = failure(resp, clierr.New(clierr.CodeInternal, fmt.Sprintf("internal error while handling %s", req.ActionID)))
		}
		observability.RequestsTotal.WithLabelValues(string(resp.Kind), outcome(resp)).Inc()
		observability.RequestDuration.WithLabelValues(string(resp.Kind)).Observe(time.Since(started).Seconds())
		g.logger.Info().
			Str("action_id", req.ActionID).
			Str("source", string(req.Source)).
			Str("kind", string(resp.Kind)).
			Str("outcome", outcome(resp)).
			Strs("tx_hashes", resp.TxHashes()).
			Dur("elapsed", time.Since(started)).
			Msg("request handled")
	}()

	if req.ActionID == "" {
		return failure(resp, clierr.New(clierr.CodeUsage, "action id is required"))
	}
	if err := policy.Gate(policy.Request{
		ActionID:        req.ActionID,
		Params:          paramsText(req),
		Source:          req.Source,
		SafePassThrough: req.SafePassThrough,
	}); err != nil {
		resp = failure(resp, err)
		resp.Blocked = true
		resp.Text = err.Error()
		return resp
	}

	if def, ok := g.strategy(req.ActionID); ok {
		return g.runStrategy(ctx, resp, def, req)
	}
	return g.runAction(ctx, resp, req)
}

// Resolution reports how req would be handled without executing anything.
func (g *Gateway) Resolution(req Request) model.Resolution {
	actionID := strings.TrimSpace(req.ActionID)
	if def, ok := g.strategy(actionID); ok {
		return model.Resolution{ActionID: actionID, Tier: "strategy", Strategy: def.ID, Params: params(req).Values()}
	}
	return g.resolver.Resolve(actionID, params(req)).Resolution()
}

func (g *Gateway) strategy(actionID string) (strategy.Definition, bool) {
	if g.orchestrator == nil || !strings.HasPrefix(strings.ToLower(actionID), "execute-") {
		return strategy.Definition{}, false
	}
	return g.orchestrator.Lookup(actionID)
}

func (g *Gateway) runAction(ctx context.Context, resp Response, req Request) Response {
	h := g.resolver.Resolve(req.ActionID, params(req))
	resolution := h.Resolution()
	resp.Resolution = &resolution
	operation := ""
	if h.Concrete() {
		operation = h.Operation
	}
	if err := policy.GateOperation(policy.Request{
		ActionID:        req.ActionID,
		Params:          paramsText(req),
		Source:          req.Source,
		SafePassThrough: req.SafePassThrough,
	}, operation); err != nil {
		resp = failure(resp, err)
		resp.Blocked = true
		resp.Text = err.Error()
		return resp
	}
	if g.wallet == nil {
		return failure(resp, clierr.New(clierr.CodeSigner, "no wallet is configured"))
	}
	if err := ctx.Err(); err != nil {
		return failure(resp, clierr.Wrap(clierr.CodeActionTimeout, "cancelled before submission", err))
	}
	// Once started, an action is awaited even if the caller goes away.
	res, err := h.Execute(context.WithoutCancel(ctx), g.wallet)
	resp.Result = &res
	if err != nil {
		resp = failure(resp, err)
		resp.Text = withHashes(resp.Text, "Submitted before the failure", res.TxHashes)
		return resp
	}
	resp.OK = true
	resp.Text = withHashes(res.Message, "Transactions", res.TxHashes)
	return resp
}

func (g *Gateway) runStrategy(ctx context.Context, resp Response, def strategy.Definition, req Request) Response {
	resp.Resolution = &model.Resolution{ActionID: req.ActionID, Tier: "strategy", Strategy: def.ID}
	start, _ := params(req).Values()["amount"].(string)
	if strings.TrimSpace(start) == "" {
		return failure(resp, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s needs a starting %s amount, e.g. %s", def.ActionID(), def.StartToken, policy.ExplicitCommand(def.ActionID(), "100"))))
	}
	if g.wallet == nil {
		return failure(resp, clierr.New(clierr.CodeSigner, "no wallet is configured"))
	}
	run, err := g.orchestrator.Run(ctx, def.ID, start, g.wallet)
	if err != nil {
		return failure(resp, err)
	}
	resp.Run = &run
	if g.recorder != nil {
		if err := g.recorder.RecordRun(ctx, run); err != nil {
			g.logger.Warn().Err(err).Str("run_id", run.ID).Msg("could not record strategy run")
		}
	}
	resp.Text = FormatRun(def, run)
	if run.Status == strategy.RunCompleted {
		resp.OK = true
		return resp
	}
	if failed, ok := run.Failed(); ok {
		resp.ErrorKind = failed.ErrorKind
	} else {
		resp.ErrorKind = "cancelled"
	}
	return resp
}

func params(req Request) providers.Params {
	if len(req.Fields) > 0 {
		return providers.StructuredParams(req.Fields)
	}
	return providers.ParseParams(req.RawParams)
}

func paramsText(req Request) string {
	if len(req.Fields) == 0 {
		return req.RawParams
	}
	buf, err := json.Marshal(req.Fields)
	if err != nil {
		return req.RawParams
	}
	return string(buf)
}

func failure(resp Response, err error) Response {
	resp.OK = false
	resp.ErrorCode = clierr.CodeOf(err)
	resp.ErrorKind = clierr.Kind(err)
	resp.Text = fmt.Sprintf("Could not complete %s: %s", displayID(resp.ActionID), err.Error())
	return resp
}

func outcome(resp Response) string {
	switch {
	case resp.OK:
		return "ok"
	case resp.Blocked:
		return "blocked"
	case resp.ErrorKind != "":
		return resp.ErrorKind
	default:
		return "error"
	}
}

func displayID(actionID string) string {
	if actionID == "" {
		return "the request"
	}
	return actionID
}

func withHashes(text, label string, hashes []string) string {
	if len(hashes) == 0 {
		return text
	}
	return fmt.Sprintf("%s\n%s: %s", text, label, strings.Join(hashes, ", "))
}
