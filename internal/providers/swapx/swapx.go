// Package swapx swaps tokens through the SwapX (Algebra Integral) router on
// Sonic, quoting first and enforcing a slippage floor on the output.
package swapx

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"github.com/ggonzalez94/sonic-agent/internal/schema"
)

const (
	defaultSlippageBps = 50
	deadlineWindow     = 20 * time.Minute
)

var (
	routerABI        = execution.MustABI(registry.SwapXRouterABI)
	quoterABI        = execution.MustABI(registry.SwapXQuoterABI)
	wrappedNativeABI = execution.MustABI(registry.WrappedNativeABI)

	swapSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true, Description: "exact input amount"},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S", Description: "input token"},
		schema.Field{Name: "to", Type: schema.TypeToken, Default: "USDC.e", Description: "output token"},
		schema.Field{Name: "slippage_bps", Type: schema.TypeInteger, Default: defaultSlippageBps},
		schema.Field{Name: "recipient", Type: schema.TypeAddress, Description: "defaults to the wallet"},
	)
	quoteSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S"},
		schema.Field{Name: "to", Type: schema.TypeToken, Default: "USDC.e"},
	)
)

type exactInputSingleParams struct {
	TokenIn          common.Address `abi:"tokenIn"`
	TokenOut         common.Address `abi:"tokenOut"`
	Recipient        common.Address `abi:"recipient"`
	Deadline         *big.Int       `abi:"deadline"`
	AmountIn         *big.Int       `abi:"amountIn"`
	AmountOutMinimum *big.Int       `abi:"amountOutMinimum"`
	LimitSqrtPrice   *big.Int       `abi:"limitSqrtPrice"`
}

type swapRequest struct {
	Amount      string `mapstructure:"amount"`
	Token       string `mapstructure:"token"`
	To          string `mapstructure:"to"`
	SlippageBps int64  `mapstructure:"slippage_bps"`
	Recipient   string `mapstructure:"recipient"`
}

type Provider struct {
	env providers.Env
	now func() time.Time
}

func New(env providers.Env) *Provider {
	return &Provider{env: env, now: time.Now}
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "swapx",
		Type:         "swap",
		Capabilities: []string{"swap.quote", "swap.execute"},
	}
}

func (p *Provider) SupportsNetwork(chain id.Chain) bool {
	return p.env.SupportsChain(chain) &&
		common.IsHexAddress(p.env.Contracts.SwapXRouter) &&
		common.IsHexAddress(p.env.Contracts.SwapXQuoter)
}

func (p *Provider) Operations() []providers.Operation {
	return []providers.Operation{
		{Name: "swapxSwap", Summary: "Swap an exact input amount through SwapX", Schema: swapSchema, Execute: p.swap},
		{Name: "swapxQuote", Summary: "Quote a SwapX swap without executing it", Schema: quoteSchema, Execute: p.quote},
	}
}

func (p *Provider) Actions() []providers.ActionDescriptor {
	return []providers.ActionDescriptor{
		{ActionID: "swap-s-to-usdc", Operation: "swapxSwap", Description: "Swap S for USDC.e", Defaults: map[string]any{"token": "S", "to": "USDC.e"}},
		{ActionID: "swap-usdc-to-s", Operation: "swapxSwap", Description: "Swap USDC.e for wS", Defaults: map[string]any{"token": "USDC.e", "to": "wS"}},
		{ActionID: "quote-s-to-usdc", Operation: "swapxQuote", Description: "Quote S to USDC.e", Defaults: map[string]any{"token": "S", "to": "USDC.e"}},
	}
}

// routeToken swaps the native coin for its wrapped form; the router only
// trades ERC20s.
func (p *Provider) routeToken(token id.Token) id.Token {
	if !token.IsNative() {
		return token
	}
	if wrapped, ok := id.LookupToken(p.env.Chain, p.env.Contracts.WrappedNative); ok {
		return wrapped
	}
	return id.Token{Symbol: "wS", Address: common.HexToAddress(p.env.Contracts.WrappedNative).Hex(), Decimals: token.Decimals, MinAmount: token.MinAmount}
}

func (p *Provider) quoteExact(ctx context.Context, w execution.Wallet, in, out id.Token, amount id.Amount) (*big.Int, uint16, error) {
	outputs, err := execution.Call(ctx, w, quoterABI, common.HexToAddress(p.env.Contracts.SwapXQuoter), "quoteExactInputSingle",
		common.HexToAddress(in.Address), common.HexToAddress(out.Address), amount.Value, big.NewInt(0))
	if err != nil {
		return nil, 0, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("swapx quote unavailable for %s/%s", in.Symbol, out.Symbol), err)
	}
	if len(outputs) < 2 {
		return nil, 0, clierr.New(clierr.CodeUnavailable, "invalid swapx quote response")
	}
	quoted, ok := outputs[0].(*big.Int)
	if !ok || quoted == nil || quoted.Sign() <= 0 {
		return nil, 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("swapx has no liquidity for %s/%s", in.Symbol, out.Symbol))
	}
	fee, _ := outputs[1].(uint16)
	return quoted, fee, nil
}

func (p *Provider) resolvePair(ctx context.Context, w execution.Wallet, req swapRequest) (id.Amount, id.Token, id.Token, error) {
	amount, in, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return id.Amount{}, id.Token{}, id.Token{}, err
	}
	out, err := p.env.Token(ctx, w, req.To)
	if err != nil {
		return id.Amount{}, id.Token{}, id.Token{}, err
	}
	if strings.EqualFold(p.routeToken(in).Address, p.routeToken(out).Address) {
		return id.Amount{}, id.Token{}, id.Token{}, clierr.New(clierr.CodeUsage, "input and output tokens must differ")
	}
	return amount, in, out, nil
}

func (p *Provider) quote(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req swapRequest
	if err := providers.Bind(quoteSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, in, out, err := p.resolvePair(ctx, w, req)
	if err != nil {
		return providers.Result{}, err
	}
	out = p.routeToken(out)
	quoted, fee, err := p.quoteExact(ctx, w, p.routeToken(in), out, amount)
	if err != nil {
		return providers.Result{}, err
	}
	estimate := id.NewAmount(quoted, out)
	return providers.Result{
		Message: fmt.Sprintf("%s %s ~ %s %s on SwapX (fee %d)", amount.String(), in.Symbol, estimate.String(), out.Symbol, fee),
		Output:  &estimate,
		Data:    map[string]any{"quoted_amount": quoted.String(), "fee": fee},
	}, nil
}

func (p *Provider) swap(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req swapRequest
	if err := providers.Bind(swapSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	if req.SlippageBps <= 0 {
		req.SlippageBps = defaultSlippageBps
	}
	if req.SlippageBps >= 10_000 {
		return providers.Result{}, clierr.New(clierr.CodeUsage, "slippage bps must be less than 10000")
	}
	amount, in, out, err := p.resolvePair(ctx, w, req)
	if err != nil {
		return providers.Result{}, err
	}
	recipient := w.Address()
	if strings.TrimSpace(req.Recipient) != "" {
		recipient = common.HexToAddress(req.Recipient)
	}
	if _, err := execution.RequireBalance(ctx, w, in, amount); err != nil {
		return providers.Result{}, err
	}

	routeIn, routeOut := p.routeToken(in), p.routeToken(out)
	quoted, fee, err := p.quoteExact(ctx, w, routeIn, routeOut, amount)
	if err != nil {
		return providers.Result{}, err
	}
	minOut := id.NewAmount(quoted, routeOut).MulBps(10_000 - req.SlippageBps)
	router := common.HexToAddress(p.env.Contracts.SwapXRouter)

	action := execution.NewAction("swapxSwap", "swapx", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(in, amount))
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{
		"token_in":       routeIn.Address,
		"token_out":      routeOut.Address,
		"fee":            fee,
		"quoted_amount":  quoted.String(),
		"amount_out_min": minOut.BaseUnits(),
		"slippage_bps":   req.SlippageBps,
	}
	if in.IsNative() {
		data, err := execution.Pack(wrappedNativeABI, "deposit")
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("wrap-token-in", execution.StepTypeWrap, fmt.Sprintf("Wrap %s S for the swap", amount.String()), common.HexToAddress(routeIn.Address), data, amount.Value)
	}
	if err := execution.AppendApprovalIfNeeded(ctx, w, &action, routeIn, router, amount.Rescale(routeIn), p.env.AutoApprove); err != nil {
		return providers.Result{}, err
	}
	swapData, err := execution.Pack(routerABI, "exactInputSingle", exactInputSingleParams{
		TokenIn:          common.HexToAddress(routeIn.Address),
		TokenOut:         common.HexToAddress(routeOut.Address),
		Recipient:        recipient,
		Deadline:         big.NewInt(p.now().Add(deadlineWindow).Unix()),
		AmountIn:         amount.Value,
		AmountOutMinimum: minOut.Value,
		LimitSqrtPrice:   big.NewInt(0),
	})
	if err != nil {
		return providers.Result{}, err
	}

	before, err := execution.ReadBalance(ctx, w, routeOut)
	if err != nil {
		return providers.Result{}, err
	}
	action.AddCall("swap-exact-input-single", execution.StepTypeSwap,
		fmt.Sprintf("Swap %s %s for at least %s %s via SwapX", amount.String(), in.Symbol, minOut.String(), routeOut.Symbol),
		router, swapData, nil)

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}

	received := minOut
	if recipient == w.Address() {
		if after, err := execution.ReadBalance(ctx, w, routeOut); err == nil {
			if delta := new(big.Int).Sub(after.Value, before.Value); delta.Sign() > 0 {
				received = id.NewAmount(delta, routeOut)
			}
		}
	}
	return providers.Result{
		Message:  fmt.Sprintf("Swapped %s %s for %s %s on SwapX", amount.String(), in.Symbol, received.String(), routeOut.Symbol),
		TxHashes: hashes,
		Output:   &received,
		Data:     action.Metadata,
	}, nil
}
