package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/execution/executiontest"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/observability"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/providers/providertest"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sonic = id.Chain{Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146}

// fixedPrices values 1 USDC.e at 2 S.
type fixedPrices struct{}

func (fixedPrices) Convert(_ context.Context, _ execution.Wallet, amount id.Amount, to id.Token) (id.Amount, error) {
	out := amount.Rescale(to)
	out.Value.Mul(out.Value, big.NewInt(2))
	return out, nil
}

// echo returns the requested amount as the operation output.
func echo(hash string, outToken string) providers.Executor {
	return func(_ context.Context, _ execution.Wallet, params providers.Params) (providers.Result, error) {
		values := params.Values()
		token := id.MustToken(sonic, outToken)
		amount, err := id.ParseAmount(values["amount"].(string), token)
		if err != nil {
			return providers.Result{}, err
		}
		return providers.Result{Message: "ok " + amount.String(), TxHashes: []string{hash}, Output: &amount}, nil
	}
}

func newOrchestrator(t *testing.T, ps ...providers.Provider) *Orchestrator {
	t.Helper()
	reg, err := providers.NewRegistry(ps...)
	require.NoError(t, err)
	o := New(resolver.New(reg, sonic, nil), fixedPrices{})
	o.newID = func() string { return "run_test" }
	return o
}

func TestDeltaNeutralStopsAtFailedBorrow(t *testing.T) {
	supplyHash := executiontest.HashFor(1).Hex()
	native := providertest.New("native").Op("wrapS", echo("0x02", "wS"))
	machfi := providertest.New("machfi").
		Op("machfiSupply", echo(supplyHash, "USDC.e")).
		Returning("machfiBorrow", providers.Result{}, clierr.InsufficientBalance("borrowing power", "200.000000000000000000", "80.000000000000000000"))
	vault := providertest.New("vault").Op("vaultDeposit", echo("0x03", "wS"))

	o := newOrchestrator(t, native, machfi, vault)
	run, err := o.Run(context.Background(), "execute-machfi-delta-neutral", "100", executiontest.New())
	require.NoError(t, err)

	assert.Equal(t, RunAborted, run.Status)
	assert.Equal(t, "run_test", run.ID)
	assert.Equal(t, "100 USDC.e", run.StartAmount)
	require.Len(t, run.Steps, 2)

	assert.Equal(t, StepSuccess, run.Steps[0].Status)
	assert.Equal(t, 0, run.Steps[0].Index)
	assert.Equal(t, []string{supplyHash}, run.Steps[0].TxHashes)
	assert.Equal(t, "machfi", run.Steps[0].Provider)
	assert.Equal(t, "machfiSupply", run.Steps[0].Operation)

	failed, ok := run.Failed()
	require.True(t, ok)
	assert.Equal(t, 1, failed.Index)
	assert.Equal(t, "insufficient_balance", failed.ErrorKind)
	assert.Contains(t, failed.Error, "insufficient borrowing power")
	assert.Equal(t, "100.000000000000000000", failed.Amount)

	assert.Empty(t, native.Calls())
	assert.Empty(t, vault.Calls())
	assert.Equal(t, []string{supplyHash}, run.TxHashes())
	assert.False(t, run.FinishedAt.IsZero())
}

func TestDeltaNeutralChainsAmounts(t *testing.T) {
	native := providertest.New("native").Op("wrapS", echo("0x02", "wS"))
	machfi := providertest.New("machfi").
		Op("machfiSupply", echo("0x00", "USDC.e")).
		Op("machfiBorrow", echo("0x01", "S"))
	vault := providertest.New("vault").Op("vaultDeposit", echo("0x03", "wS"))

	o := newOrchestrator(t, native, machfi, vault)
	run, err := o.Run(context.Background(), "machfi-delta-neutral", "10.5", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	require.Len(t, run.Steps, 4)
	for i, step := range run.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, StepSuccess, step.Status)
	}
	assert.Equal(t, []string{"0x00", "0x01", "0x02", "0x03"}, run.TxHashes())

	borrow := machfi.Calls()[1]
	assert.Equal(t, map[string]any{"amount": "10.5", "token": "S"}, borrow.Params.Values())
	deposit := vault.Calls()[0]
	assert.Equal(t, map[string]any{"amount": "10.5", "token": "wS"}, deposit.Params.Values())
}

func TestWrapAndDepositRecordsMetrics(t *testing.T) {
	before := testutil.ToFloat64(observability.StrategyRunsTotal.WithLabelValues("wrap-and-deposit", "completed"))
	native := providertest.New("native").Op("wrapS", echo("0x01", "wS"))
	vault := providertest.New("vault").Op("vaultDeposit", echo("0x02", "wS"))

	o := newOrchestrator(t, native, vault)
	run, err := o.Run(context.Background(), "wrap-and-deposit", "2", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, "2.000000000000000000", run.Steps[1].Amount)
	assert.Equal(t, before+1, testutil.ToFloat64(observability.StrategyRunsTotal.WithLabelValues("wrap-and-deposit", "completed")))
}

func TestErrorsBeforeFirstStep(t *testing.T) {
	o := newOrchestrator(t, providertest.New("native").Op("wrapS", echo("0x01", "wS")))

	_, err := o.Run(context.Background(), "execute-moon", "1", executiontest.New())
	require.Error(t, err)
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))

	_, err = o.Run(context.Background(), "wrap-and-deposit", "one", executiontest.New())
	require.Error(t, err)
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))

	_, err = o.Run(context.Background(), "wrap-and-deposit", "1", nil)
	require.Error(t, err)
	assert.Equal(t, clierr.CodeSigner, clierr.CodeOf(err))
}

func TestDerivedAmountBelowFloorIsRejected(t *testing.T) {
	native := providertest.New("native").Op("wrapS", echo("0x01", "wS"))
	def := Definition{
		ID:         "tiny",
		StartToken: "S",
		Steps:      []StepSpec{{ActionID: "wrap-s", Token: "S", Derive: ShareOfPrevious(5)}},
	}
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	o := New(resolver.New(reg, sonic, nil), nil, WithDefinitions(def))

	run, err := o.Run(context.Background(), "tiny", "1", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunAborted, run.Status)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, "validation_error", run.Steps[0].ErrorKind)
	assert.Contains(t, run.Steps[0].Error, "below the minimum of 0.001000000000000000")
	assert.Empty(t, native.Calls())
}

func TestStepsMustBindConcreteOperations(t *testing.T) {
	def := Definition{
		ID:         "mystery",
		StartToken: "S",
		Steps:      []StepSpec{{ActionID: "stake-everything-somewhere", Token: "S", Derive: Previous}},
	}
	reg, err := providers.NewRegistry(providertest.New("native").Op("wrapS", echo("0x01", "wS")))
	require.NoError(t, err)
	o := New(resolver.New(reg, sonic, nil), nil, WithDefinitions(def))

	run, err := o.Run(context.Background(), "execute-mystery", "1", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunAborted, run.Status)
	assert.Equal(t, "resolution_error", run.Steps[0].ErrorKind)
}

func TestPricedShareNeedsPriceSource(t *testing.T) {
	machfi := providertest.New("machfi").Op("machfiSupply", echo("0x00", "USDC.e")).Op("machfiBorrow", echo("0x01", "S"))
	reg, err := providers.NewRegistry(machfi)
	require.NoError(t, err)
	o := New(resolver.New(reg, sonic, nil), nil)

	run, err := o.Run(context.Background(), "machfi-delta-neutral", "5", executiontest.New())
	require.NoError(t, err)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "unsupported", run.Steps[1].ErrorKind)
	assert.Len(t, machfi.Calls(), 1)
}

func TestCancellationStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	native := providertest.New("native").Op("wrapS", func(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
		res, err := echo("0x01", "wS")(ctx, w, params)
		cancel()
		return res, err
	})
	vault := providertest.New("vault").Op("vaultDeposit", echo("0x02", "wS"))

	o := newOrchestrator(t, native, vault)
	o.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	run, err := o.Run(ctx, "wrap-and-deposit", "1", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunAborted, run.Status)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, StepSuccess, run.Steps[0].Status)
	assert.Contains(t, run.Error, "cancelled before step 1")
	assert.Empty(t, vault.Calls())
	_, failed := run.Failed()
	assert.False(t, failed)
}

func TestCancellationDoesNotAbortStepInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	submitted := make(chan struct{})
	native := providertest.New("native").Op("wrapS", func(stepCtx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
		close(submitted)
		// Waits like a receipt poll: only the step context can interrupt it.
		select {
		case <-stepCtx.Done():
			return providers.Result{TxHashes: []string{"0xaa"}}, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt of 0xaa", stepCtx.Err())
		case <-time.After(100 * time.Millisecond):
		}
		return echo("0xaa", "wS")(stepCtx, w, params)
	})
	vault := providertest.New("vault").Op("vaultDeposit", echo("0x02", "wS"))
	go func() {
		<-submitted
		cancel()
	}()

	o := newOrchestrator(t, native, vault)
	run, err := o.Run(ctx, "wrap-and-deposit", "1", executiontest.New())
	require.NoError(t, err)
	assert.Equal(t, RunAborted, run.Status)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, StepSuccess, run.Steps[0].Status)
	assert.Equal(t, []string{"0xaa"}, run.Steps[0].TxHashes)
	assert.Contains(t, run.Error, "cancelled before step 1")
	assert.Empty(t, vault.Calls())
}

func TestLookupAndListing(t *testing.T) {
	o := newOrchestrator(t)
	def, ok := o.Lookup("EXECUTE-machfi-delta-neutral")
	require.True(t, ok)
	assert.Equal(t, "execute-machfi-delta-neutral", def.ActionID())
	assert.Len(t, def.Listing().Steps, 4)

	defs := o.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "machfi-delta-neutral", defs[0].ID)
	assert.Equal(t, "wrap-and-deposit", defs[1].ID)
}
