// Package native exposes operations on Sonic's native coin and its wrapped
// form: wrap, unwrap, transfer and balance reads.
package native

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"github.com/ggonzalez94/sonic-agent/internal/schema"
)

var (
	erc20ABI         = execution.MustABI(registry.ERC20ABI)
	wrappedNativeABI = execution.MustABI(registry.WrappedNativeABI)

	wrapSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true, Description: "amount of S to wrap"},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S", Description: "must be S"},
	)
	unwrapSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true, Description: "amount of wS to unwrap"},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "wS", Description: "must be wS"},
	)
	transferSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S"},
		schema.Field{Name: "to", Type: schema.TypeAddress, Required: true, Description: "recipient"},
	)
	balanceSchema = schema.Fields(
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S"},
	)
)

type amountRequest struct {
	Amount string `mapstructure:"amount"`
	Token  string `mapstructure:"token"`
	To     string `mapstructure:"to"`
}

type Provider struct {
	env providers.Env
}

func New(env providers.Env) *Provider {
	return &Provider{env: env}
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "native",
		Type:         "token",
		Capabilities: []string{"token.wrap", "token.unwrap", "token.transfer", "token.balance"},
	}
}

func (p *Provider) SupportsNetwork(chain id.Chain) bool {
	return p.env.SupportsChain(chain) && common.IsHexAddress(p.env.Contracts.WrappedNative)
}

func (p *Provider) Operations() []providers.Operation {
	return []providers.Operation{
		{Name: "wrapS", Summary: "Wrap native S into wS", Schema: wrapSchema, Execute: p.wrapS},
		{Name: "unwrapS", Summary: "Unwrap wS back into native S", Schema: unwrapSchema, Execute: p.unwrapS},
		{Name: "transfer", Summary: "Send S or an ERC20 token to an address", Schema: transferSchema, Execute: p.transfer},
		{Name: "getBalance", Summary: "Read the wallet balance of a token", Schema: balanceSchema, Execute: p.getBalance},
	}
}

func (p *Provider) Actions() []providers.ActionDescriptor {
	return []providers.ActionDescriptor{
		{ActionID: "check-balance", Operation: "getBalance", Description: "Show the S balance"},
		{ActionID: "usdc-balance", Operation: "getBalance", Description: "Show the USDC.e balance", Defaults: map[string]any{"token": "USDC.e"}},
		{ActionID: "ws-balance", Operation: "getBalance", Description: "Show the wS balance", Defaults: map[string]any{"token": "wS"}},
	}
}

func (p *Provider) wrappedToken() id.Token {
	if token, ok := id.LookupToken(p.env.Chain, p.env.Contracts.WrappedNative); ok {
		return token
	}
	return id.Token{Symbol: "wS", Address: common.HexToAddress(p.env.Contracts.WrappedNative).Hex(), Decimals: 18, MinAmount: "0.001"}
}

func (p *Provider) wrapS(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req amountRequest
	if err := providers.Bind(wrapSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	if !token.IsNative() {
		return providers.Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("wrapS only wraps S, got %s", token.Symbol))
	}
	if _, err := execution.RequireBalance(ctx, w, token, amount); err != nil {
		return providers.Result{}, err
	}
	wrapped := p.wrappedToken()
	data, err := execution.Pack(wrappedNativeABI, "deposit")
	if err != nil {
		return providers.Result{}, err
	}
	action := execution.NewAction("wrapS", "native", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(token, amount))
	action.InputAmount = amount.BaseUnits()
	action.AddCall("wrap-s", execution.StepTypeWrap, fmt.Sprintf("Wrap %s S", amount.String()), common.HexToAddress(wrapped.Address), data, amount.Value)

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	out := amount.Rescale(wrapped)
	return providers.Result{
		Message:  fmt.Sprintf("Wrapped %s S into %s %s", amount.String(), out.String(), wrapped.Symbol),
		TxHashes: hashes,
		Output:   &out,
	}, nil
}

func (p *Provider) unwrapS(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req amountRequest
	if err := providers.Bind(unwrapSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	wrapped := p.wrappedToken()
	if !strings.EqualFold(token.Address, wrapped.Address) {
		return providers.Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unwrapS only unwraps %s, got %s", wrapped.Symbol, token.Symbol))
	}
	if _, err := execution.RequireBalance(ctx, w, wrapped, amount); err != nil {
		return providers.Result{}, err
	}
	data, err := execution.Pack(wrappedNativeABI, "withdraw", amount.Value)
	if err != nil {
		return providers.Result{}, err
	}
	action := execution.NewAction("unwrapS", "native", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(wrapped, amount))
	action.InputAmount = amount.BaseUnits()
	action.AddCall("unwrap-s", execution.StepTypeWrap, fmt.Sprintf("Unwrap %s %s", amount.String(), wrapped.Symbol), common.HexToAddress(wrapped.Address), data, nil)

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	native := id.MustToken(p.env.Chain, "S")
	out := amount.Rescale(native)
	return providers.Result{
		Message:  fmt.Sprintf("Unwrapped %s %s into %s S", amount.String(), wrapped.Symbol, out.String()),
		TxHashes: hashes,
		Output:   &out,
	}, nil
}

func (p *Provider) transfer(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req amountRequest
	if err := providers.Bind(transferSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	to := common.HexToAddress(req.To)
	if to == (common.Address{}) {
		return providers.Result{}, clierr.New(clierr.CodeUsage, "refusing to transfer to the zero address")
	}
	if _, err := execution.RequireBalance(ctx, w, token, amount); err != nil {
		return providers.Result{}, err
	}

	action := execution.NewAction("transfer", "native", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(token, amount))
	action.InputAmount = amount.BaseUnits()
	description := fmt.Sprintf("Send %s %s to %s", amount.String(), token.Symbol, to.Hex())
	if token.IsNative() {
		action.AddCall("transfer", execution.StepTypeTransfer, description, to, nil, amount.Value)
	} else {
		data, err := execution.Pack(erc20ABI, "transfer", to, amount.Value)
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("transfer", execution.StepTypeTransfer, description, common.HexToAddress(token.Address), data, nil)
	}

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Sent %s %s to %s", amount.String(), token.Symbol, to.Hex()),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

func (p *Provider) getBalance(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req amountRequest
	if err := providers.Bind(balanceSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	token, err := p.env.Token(ctx, w, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	balance, err := execution.ReadBalance(ctx, w, token)
	if err != nil {
		return providers.Result{}, err
	}
	return providers.Result{
		Message: fmt.Sprintf("%s balance of %s: %s", token.Symbol, w.Address().Hex(), balance.Fixed()),
		Output:  &balance,
		Data:    map[string]any{"token": token.Symbol, "balance": balance.String()},
	}, nil
}
