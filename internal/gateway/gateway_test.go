package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/execution/executiontest"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/policy"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/providers/providertest"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sonic = id.Chain{Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146}

// parity prices every token one-to-one.
type parity struct{}

func (parity) Convert(_ context.Context, _ execution.Wallet, amount id.Amount, to id.Token) (id.Amount, error) {
	return amount.Rescale(to), nil
}

type recorder struct {
	runs []strategy.Run
	err  error
}

func (r *recorder) RecordRun(_ context.Context, run strategy.Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

func passThrough(hash string, token string) providers.Executor {
	return func(_ context.Context, _ execution.Wallet, params providers.Params) (providers.Result, error) {
		amount, err := id.ParseAmount(params.Values()["amount"].(string), id.MustToken(sonic, token))
		if err != nil {
			return providers.Result{}, err
		}
		return providers.Result{Message: "done " + amount.String() + " " + token, TxHashes: []string{hash}, Output: &amount}, nil
	}
}

type fixture struct {
	native *providertest.Provider
	vault  *providertest.Provider
	gw     *Gateway
	rec    *recorder
}

func newFixture(t *testing.T, w execution.Wallet) fixture {
	t.Helper()
	native := providertest.New("native").
		Op("wrapS", passThrough("0x01", "wS")).
		Returning("getBalance", providers.Result{Message: "S balance: 1.5"}, nil)
	vault := providertest.New("vault").Op("vaultDeposit", passThrough("0x02", "wS"))
	machfi := providertest.New("machfi").
		Op("machfiSupply", passThrough("0x03", "USDC.e")).
		Returning("machfiBorrow", providers.Result{}, clierr.InsufficientBalance("borrowing power", "50", "0"))
	reg, err := providers.NewRegistry(native, vault, machfi)
	require.NoError(t, err)
	res := resolver.New(reg, sonic, nil)
	rec := &recorder{}
	gw := New(res, strategy.New(res, parity{}), w, WithRecorder(rec))
	return fixture{native: native, vault: vault, gw: gw, rec: rec}
}

func TestImplicitStrategyIsBlockedWithoutSideEffects(t *testing.T) {
	w := executiontest.New()
	f := newFixture(t, w)

	resp := f.gw.Dispatch(context.Background(), Request{
		ActionID:  "execute-machfi-delta-neutral",
		RawParams: "100",
		Source:    policy.SourceButton,
	})
	assert.False(t, resp.OK)
	assert.True(t, resp.Blocked)
	assert.Equal(t, KindStrategy, resp.Kind)
	assert.Equal(t, clierr.CodeBlocked, resp.ErrorCode)
	assert.Contains(t, resp.Text, "/do execute-machfi-delta-neutral 100")
	assert.Nil(t, resp.Run)
	assert.Empty(t, w.Sent)
	assert.Empty(t, f.native.Calls())
	assert.Empty(t, f.rec.runs)
}

func TestSafePassThroughSkipsGate(t *testing.T) {
	f := newFixture(t, executiontest.New())
	text := f.gw.Execute(context.Background(), Request{ActionID: "wrap-s", RawParams: "2", Source: policy.SourceButton, SafePassThrough: true})
	assert.Equal(t, "done 2 wS\nTransactions: 0x01", text)
}

func TestImplicitReadOnlyActionRuns(t *testing.T) {
	f := newFixture(t, executiontest.New())
	resp := f.gw.Dispatch(context.Background(), Request{ActionID: "balance", Source: policy.SourceMenu})
	assert.True(t, resp.OK)
	assert.Equal(t, "S balance: 1.5", resp.Text)
	require.NotNil(t, resp.Resolution)
	assert.Equal(t, "direct", resp.Resolution.Tier)
}

func TestExplicitStrategyReportsPartialFailure(t *testing.T) {
	f := newFixture(t, executiontest.New())
	resp := f.gw.Dispatch(context.Background(), Request{
		ActionID: "execute-machfi-delta-neutral",
		Fields:   map[string]any{"amount": "100"},
		Source:   policy.SourceCommand,
	})
	assert.False(t, resp.OK)
	assert.Equal(t, KindStrategy, resp.Kind)
	require.NotNil(t, resp.Run)
	assert.Equal(t, strategy.RunAborted, resp.Run.Status)
	require.Len(t, resp.Run.Steps, 2)
	assert.Equal(t, "insufficient_balance", resp.ErrorKind)
	assert.Equal(t, []string{"0x03"}, resp.TxHashes())
	assert.Contains(t, resp.Text, "1. Supply USDC.e to MachFi [100.000000 USDC.e]: done 100 USDC.e tx 0x03")
	assert.Contains(t, resp.Text, "2. Borrow S worth 50% of the supplied USDC.e [50.000000000000000000 S]: FAILED (insufficient_balance) insufficient borrowing power: required: 50, available: 0")
	assert.Contains(t, resp.Text, "Stopped with 2 of 4 steps not run")
	require.Len(t, f.rec.runs, 1)
	assert.Equal(t, resp.Run.ID, f.rec.runs[0].ID)
}

func TestStrategyCompletes(t *testing.T) {
	f := newFixture(t, executiontest.New())
	f.rec.err = errors.New("journal offline")
	resp := f.gw.Dispatch(context.Background(), Request{ActionID: "execute-wrap-and-deposit", RawParams: "3", Source: policy.SourceCLI})
	assert.True(t, resp.OK, resp.Text)
	assert.Equal(t, []string{"0x01", "0x02"}, resp.TxHashes())
	assert.Contains(t, resp.Text, "Strategy wrap-and-deposit completed")
	assert.NotContains(t, resp.Text, "Stopped")
}

func TestStrategyNeedsStartAmount(t *testing.T) {
	f := newFixture(t, executiontest.New())
	resp := f.gw.Dispatch(context.Background(), Request{ActionID: "execute-wrap-and-deposit", Source: policy.SourceCLI})
	assert.Equal(t, clierr.CodeUsage, resp.ErrorCode)
	assert.Contains(t, resp.Text, "/do execute-wrap-and-deposit 100")
	assert.Empty(t, f.native.Calls())
}

func TestActionFailureKeepsHashes(t *testing.T) {
	native := providertest.New("native").Returning("wrapS",
		providers.Result{TxHashes: []string{"0xdead"}},
		clierr.New(clierr.CodeContractExecution, "transaction reverted"))
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	gw := New(resolver.New(reg, sonic, nil), nil, executiontest.New())

	resp := gw.Dispatch(context.Background(), Request{ActionID: "wrap-s", RawParams: "1", Source: policy.SourceText})
	assert.False(t, resp.OK)
	assert.Equal(t, "contract_execution_error", resp.ErrorKind)
	assert.Equal(t, "Could not complete wrap-s: transaction reverted\nSubmitted before the failure: 0xdead", resp.Text)
}

func TestUnresolvableActionIsResolutionError(t *testing.T) {
	f := newFixture(t, executiontest.New())
	resp := f.gw.Dispatch(context.Background(), Request{ActionID: "summon-dragon", Source: policy.SourceText})
	assert.Equal(t, "resolution_error", resp.ErrorKind)
	require.NotNil(t, resp.Resolution)
	assert.Equal(t, "fallback", resp.Resolution.Tier)
}

func TestPanicsAreRecovered(t *testing.T) {
	native := providertest.New("native").Op("wrapS", func(context.Context, execution.Wallet, providers.Params) (providers.Result, error) {
		panic("boom")
	})
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	gw := New(resolver.New(reg, sonic, nil), nil, executiontest.New())

	var resp Response
	require.NotPanics(t, func() {
		resp = gw.Dispatch(context.Background(), Request{ActionID: "wrap-s", RawParams: "1", Source: policy.SourceCLI})
	})
	assert.Equal(t, clierr.CodeInternal, resp.ErrorCode)
	assert.Contains(t, resp.Text, "internal error while handling wrap-s")
}

func TestMissingWalletAndActionID(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.gw.Dispatch(context.Background(), Request{ActionID: "wrap-s", RawParams: "1", Source: policy.SourceCLI})
	assert.Equal(t, clierr.CodeSigner, resp.ErrorCode)

	resp = f.gw.Dispatch(context.Background(), Request{ActionID: "  ", Source: policy.SourceCLI})
	assert.Equal(t, clierr.CodeUsage, resp.ErrorCode)
	assert.Equal(t, "Could not complete the request: action id is required", resp.Text)
}

func TestResolutionDoesNotExecute(t *testing.T) {
	f := newFixture(t, executiontest.New())
	r := f.gw.Resolution(Request{ActionID: "execute-wrap-and-deposit", RawParams: "1"})
	assert.Equal(t, "strategy", r.Tier)
	assert.Equal(t, "wrap-and-deposit", r.Strategy)

	r = f.gw.Resolution(Request{ActionID: "wrap-s", RawParams: "1"})
	assert.Equal(t, "native", r.Provider)
	assert.Equal(t, "wrapS", r.Operation)
	assert.Empty(t, f.native.Calls())
}

func TestImplicitOperationNamesAreBlocked(t *testing.T) {
	for _, actionID := range []string{"wrapS", "vaultDeposit", "ui-wraps"} {
		f := newFixture(t, executiontest.New())
		resp := f.gw.Dispatch(context.Background(), Request{ActionID: actionID, RawParams: "5", Source: policy.SourceButton})
		assert.True(t, resp.Blocked, actionID)
		assert.False(t, resp.OK, actionID)
		assert.Equal(t, clierr.CodeBlocked, resp.ErrorCode, actionID)
		assert.Empty(t, f.native.Calls(), actionID)
		assert.Empty(t, f.vault.Calls(), actionID)
	}
}

func TestImplicitRequestIsCheckedAgainstBoundOperation(t *testing.T) {
	native := providertest.New("native").
		Op("wrapS", passThrough("0x01", "wS")).
		Returning("getBalance", providers.Result{Message: "S balance: 1.5"}, nil).
		Describe("quick-wrap", "wrapS", nil).
		Describe("quick-look", "getBalance", nil)
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	res := resolver.New(reg, sonic, nil)
	gw := New(res, strategy.New(res, parity{}), executiontest.New())

	resp := gw.Dispatch(context.Background(), Request{ActionID: "quick-wrap", RawParams: "5", Source: policy.SourceMenu})
	assert.True(t, resp.Blocked)
	assert.Contains(t, resp.Text, "resolves to wrapS")
	assert.Contains(t, resp.Text, "/do quick-wrap 5")
	require.NotNil(t, resp.Resolution)
	assert.Equal(t, "self-description", resp.Resolution.Tier)
	assert.Empty(t, native.Calls())

	resp = gw.Dispatch(context.Background(), Request{ActionID: "summon-dragon", Source: policy.SourceButton})
	assert.True(t, resp.Blocked)
	assert.Contains(t, resp.Text, "the interpreter")

	resp = gw.Dispatch(context.Background(), Request{ActionID: "quick-look", Source: policy.SourceButton})
	assert.True(t, resp.OK)
	assert.Equal(t, "S balance: 1.5", resp.Text)

	resp = gw.Dispatch(context.Background(), Request{ActionID: "quick-wrap", RawParams: "5", Source: policy.SourceCommand})
	assert.True(t, resp.OK)
	assert.Len(t, native.Calls(), 2)
}

func TestCallerCancellationDoesNotAbortActionInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	native := providertest.New("native").Op("wrapS", func(stepCtx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
		close(started)
		select {
		case <-stepCtx.Done():
			return providers.Result{TxHashes: []string{"0x01"}}, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt of 0x01", stepCtx.Err())
		case <-time.After(100 * time.Millisecond):
		}
		return passThrough("0x01", "wS")(stepCtx, w, params)
	})
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	res := resolver.New(reg, sonic, nil)
	gw := New(res, strategy.New(res, parity{}), executiontest.New())
	go func() {
		<-started
		cancel()
	}()

	resp := gw.Dispatch(ctx, Request{ActionID: "wrap-s", RawParams: "2", Source: policy.SourceCommand})
	assert.True(t, resp.OK, resp.Text)
	assert.Equal(t, "done 2 wS\nTransactions: 0x01", resp.Text)

	resp = gw.Dispatch(ctx, Request{ActionID: "wrap-s", RawParams: "2", Source: policy.SourceCommand})
	assert.False(t, resp.OK)
	assert.Equal(t, clierr.CodeActionTimeout, resp.ErrorCode)
	assert.Len(t, native.Calls(), 1)
}
