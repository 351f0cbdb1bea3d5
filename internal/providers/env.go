package providers

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"github.com/ggonzalez94/sonic-agent/internal/schema"
)

// Env is the shared runtime every on-chain provider is built with.
type Env struct {
	Chain       id.Chain
	Contracts   registry.Contracts
	Execute     execution.ExecuteOptions
	AutoApprove bool
	Tokens      *TokenResolver
}

func (e Env) SupportsChain(chain id.Chain) bool {
	return chain.EVMChainID == e.Chain.EVMChainID
}

// Token resolves a symbol or address, using the resolver when configured.
func (e Env) Token(ctx context.Context, w execution.Wallet, input string) (id.Token, error) {
	if e.Tokens != nil {
		return e.Tokens.Resolve(ctx, w, input)
	}
	token, ok := id.LookupToken(e.Chain, input)
	if !ok {
		return id.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token %q", input))
	}
	return token, nil
}

// Amount resolves token and parses amount at its precision, enforcing the
// dust floor.
func (e Env) Amount(ctx context.Context, w execution.Wallet, amount, tokenInput string) (id.Amount, id.Token, error) {
	token, err := e.Token(ctx, w, tokenInput)
	if err != nil {
		return id.Amount{}, id.Token{}, err
	}
	parsed, err := id.ParseAmount(amount, token)
	if err != nil {
		return id.Amount{}, id.Token{}, err
	}
	if err := id.CheckFloor(parsed, token); err != nil {
		return id.Amount{}, id.Token{}, err
	}
	return parsed, token, nil
}

// Run executes a transaction bundle and reports every emitted hash.
func (e Env) Run(ctx context.Context, w execution.Wallet, action *execution.Action) ([]string, error) {
	err := execution.ExecuteAction(ctx, w, action, e.Execute)
	return action.TxHashes(), err
}

// Bind validates params against s and decodes them into out.
func Bind(s schema.Schema, params Params, out any) error {
	return s.Bind(params.Values(), out)
}
