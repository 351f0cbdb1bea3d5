package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
)

var erc20ABI = execution.MustABI(registry.ERC20ABI)

// TokenStore persists token metadata discovered on-chain.
type TokenStore interface {
	GetToken(chainID int64, address string) (id.Token, bool, error)
	PutToken(chainID int64, token id.Token) error
}

// TokenResolver resolves registry symbols directly and raw 0x addresses via
// decimals()/symbol() reads, remembering what it learns.
type TokenResolver struct {
	chain id.Chain
	store TokenStore

	mu   sync.Mutex
	seen map[string]id.Token
}

func NewTokenResolver(chain id.Chain, store TokenStore) *TokenResolver {
	return &TokenResolver{chain: chain, store: store, seen: map[string]id.Token{}}
}

func (r *TokenResolver) Resolve(ctx context.Context, w execution.Wallet, input string) (id.Token, error) {
	raw := strings.TrimSpace(input)
	if token, ok := id.LookupToken(r.chain, raw); ok {
		return token, nil
	}
	if !id.IsEVMAddress(raw) {
		return id.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token %q on %s", input, r.chain.Slug))
	}
	key := strings.ToLower(raw)

	r.mu.Lock()
	token, ok := r.seen[key]
	r.mu.Unlock()
	if ok {
		return token, nil
	}
	if r.store != nil {
		if token, ok, err := r.store.GetToken(r.chain.EVMChainID, key); err == nil && ok {
			r.remember(key, token)
			return token, nil
		}
	}
	if w == nil {
		return id.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("token %s is not registered", raw))
	}

	addr := common.HexToAddress(raw)
	decimals, err := execution.ReadUint(ctx, w, erc20ABI, addr, "decimals")
	if err != nil {
		return id.Token{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("token %s does not look like an ERC20", raw), err)
	}
	symbol := addr.Hex()[:8]
	if out, err := execution.Call(ctx, w, erc20ABI, addr, "symbol"); err == nil && len(out) > 0 {
		if s, ok := out[0].(string); ok && strings.TrimSpace(s) != "" {
			symbol = strings.TrimSpace(s)
		}
	}
	token = id.Token{Symbol: symbol, Address: addr.Hex(), Decimals: int(decimals.Int64())}
	r.remember(key, token)
	if r.store != nil {
		_ = r.store.PutToken(r.chain.EVMChainID, token)
	}
	return token, nil
}

func (r *TokenResolver) remember(key string, token id.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = token
}
