package native

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/execution/executiontest"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wsAddress = common.HexToAddress("0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38")

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	chain, err := id.ParseChain("sonic")
	require.NoError(t, err)
	return New(providers.Env{
		Chain:     chain,
		Contracts: registry.DefaultContracts(chain.EVMChainID),
		Execute:   execution.DefaultExecuteOptions(),
	})
}

func operation(t *testing.T, p *Provider, name string) providers.Operation {
	t.Helper()
	for _, op := range p.Operations() {
		if op.Name == name {
			return op
		}
	}
	t.Fatalf("operation %s not found", name)
	return providers.Operation{}
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestWrapSMovesNativeIntoWrapped(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	w.SetBalance(common.Address{}, ether(10))
	w.OnSend = func(w *executiontest.Wallet, req execution.TxRequest) {
		if req.To == wsAddress && req.Value != nil {
			w.AddBalance(common.Address{}, new(big.Int).Neg(req.Value))
			w.AddBalance(wsAddress, req.Value)
		}
	}

	res, err := operation(t, p, "wrapS").Execute(context.Background(), w, providers.ParseParams("3"))
	require.NoError(t, err)
	require.Len(t, res.TxHashes, 1)
	assert.Equal(t, executiontest.HashFor(1).Hex(), res.TxHashes[0])
	require.NotNil(t, res.Output)
	assert.Equal(t, "3", res.Output.String())
	assert.Equal(t, "wS", res.Output.Symbol)
	assert.Equal(t, 1, w.SentTo(wsAddress, wrappedNativeABI, "deposit"))

	balance, err := w.BalanceOf(context.Background(), wsAddress)
	require.NoError(t, err)
	assert.Equal(t, ether(3).String(), balance.String())
}

func TestWrapSInsufficientBalance(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	w.SetBalance(common.Address{}, ether(1))

	_, err := operation(t, p, "wrapS").Execute(context.Background(), w, providers.ParseParams("3"))
	require.Error(t, err)
	assert.Equal(t, clierr.CodeInsufficientBalance, clierr.CodeOf(err))
	assert.Contains(t, err.Error(), "required: 3.000000000000000000, available: 1.000000000000000000")
	assert.Empty(t, w.Sent)
}

func TestWrapSRejectsOtherTokens(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	_, err := operation(t, p, "wrapS").Execute(context.Background(), w, providers.ParseParams("3 USDC.e"))
	require.Error(t, err)
	assert.Equal(t, "validation_error", clierr.Kind(err))
}

func TestUnwrapSCallsWithdraw(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	w.SetBalance(wsAddress, ether(5))

	res, err := operation(t, p, "unwrapS").Execute(context.Background(), w, providers.ParseParams("2"))
	require.NoError(t, err)
	assert.Equal(t, "S", res.Output.Symbol)
	assert.Equal(t, 1, w.SentTo(wsAddress, wrappedNativeABI, "withdraw"))
}

func TestTransferERC20(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	usdc := common.HexToAddress("0x29219dd400f2Bf60E5a23d13Be72B486D4038894")
	w.SetBalance(usdc, big.NewInt(50_000_000))
	to := "0x00000000000000000000000000000000000000bb"

	res, err := operation(t, p, "transfer").Execute(context.Background(), w, providers.ParseParams("20 USDC.e "+to))
	require.NoError(t, err)
	assert.Len(t, res.TxHashes, 1)
	assert.Equal(t, 1, w.SentTo(usdc, erc20ABI, "transfer"))
}

func TestTransferNativeSendsValue(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	w.SetBalance(common.Address{}, ether(2))
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	_, err := operation(t, p, "transfer").Execute(context.Background(), w, providers.StructuredParams(map[string]any{
		"amount": "1.5",
		"to":     to.Hex(),
	}))
	require.NoError(t, err)
	require.Len(t, w.Sent, 1)
	assert.Equal(t, to, w.Sent[0].To)
	assert.Equal(t, "1500000000000000000", w.Sent[0].Value.String())
}

func TestTransferRequiresRecipient(t *testing.T) {
	p := newTestProvider(t)
	_, err := operation(t, p, "transfer").Execute(context.Background(), executiontest.New(), providers.ParseParams("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to is required")
}

func TestGetBalanceHasNoSideEffects(t *testing.T) {
	p := newTestProvider(t)
	w := executiontest.New()
	w.SetBalance(common.Address{}, ether(7))

	res, err := operation(t, p, "getBalance").Execute(context.Background(), w, providers.Params{})
	require.NoError(t, err)
	assert.Empty(t, res.TxHashes)
	assert.Empty(t, w.Sent)
	assert.Equal(t, "7", res.Output.String())
	assert.Contains(t, res.Message, "7.000000000000000000")
}
