package providers

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution/executiontest"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTokenStore map[string]id.Token

func (m memoryTokenStore) GetToken(_ int64, address string) (id.Token, bool, error) {
	token, ok := m[address]
	return token, ok, nil
}

func (m memoryTokenStore) PutToken(_ int64, token id.Token) error {
	m[strings.ToLower(token.Address)] = token
	return nil
}

func TestTokenResolverRegistryAndOnChain(t *testing.T) {
	sonic, _ := id.ParseChain("sonic")
	store := memoryTokenStore{}
	resolver := NewTokenResolver(sonic, store)
	wallet := executiontest.New()

	token, err := resolver.Resolve(context.Background(), wallet, "usdc")
	require.NoError(t, err)
	assert.Equal(t, "USDC.e", token.Symbol)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	wallet.SetRead(addr, erc20ABI, "decimals", uint8(8))
	wallet.SetRead(addr, erc20ABI, "symbol", "TKN")
	token, err = resolver.Resolve(context.Background(), wallet, addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, "TKN", token.Symbol)
	assert.Equal(t, 8, token.Decimals)
	assert.Len(t, store, 1)

	reads := wallet.Reads
	_, err = resolver.Resolve(context.Background(), wallet, addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, reads, wallet.Reads, "expected memoized token")
}

func TestTokenResolverUnknownSymbol(t *testing.T) {
	sonic, _ := id.ParseChain("sonic")
	_, err := NewTokenResolver(sonic, nil).Resolve(context.Background(), nil, "DOGE")
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))
}

func TestEnvAmountEnforcesFloor(t *testing.T) {
	sonic, _ := id.ParseChain("sonic")
	env := Env{Chain: sonic}
	_, _, err := env.Amount(context.Background(), nil, "0.0001", "S")
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))

	amount, token, err := env.Amount(context.Background(), nil, "2", "S")
	require.NoError(t, err)
	assert.True(t, token.IsNative())
	assert.Equal(t, 0, amount.Value.Cmp(new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))))
}
