// Package machfi implements lending operations against MachFi, a Compound v2
// fork on Sonic. Market, comptroller and oracle addresses come from config.
package machfi

import (
	"context"
	"fmt"
	"math/big"
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
	cErc20ABI      = execution.MustABI(registry.CErc20ABI)
	cEtherABI      = execution.MustABI(registry.CEtherABI)
	comptrollerABI = execution.MustABI(registry.ComptrollerABI)
	oracleABI      = execution.MustABI(registry.PriceOracleABI)

	expScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

var (
	supplySchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "USDC.e"},
		schema.Field{Name: "collateral", Type: schema.TypeBool, Default: true, Description: "enter the market as collateral"},
	)
	borrowSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S"},
	)
	repaySchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "S"},
	)
	withdrawSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true},
		schema.Field{Name: "token", Type: schema.TypeToken, Default: "USDC.e"},
	)
	liquiditySchema = schema.Fields()
)

type request struct {
	Amount     string `mapstructure:"amount"`
	Token      string `mapstructure:"token"`
	Collateral bool   `mapstructure:"collateral"`
}

type Provider struct {
	env providers.Env
}

func New(env providers.Env) *Provider {
	return &Provider{env: env}
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "machfi",
		Type:         "lending",
		Capabilities: []string{"lend.supply", "lend.borrow", "lend.repay", "lend.withdraw", "lend.liquidity", "price.convert"},
	}
}

func (p *Provider) SupportsNetwork(chain id.Chain) bool {
	return p.env.SupportsChain(chain) && len(p.env.Contracts.MachFiMarkets) > 0
}

func (p *Provider) Operations() []providers.Operation {
	return []providers.Operation{
		{Name: "machfiSupply", Summary: "Supply a token to its MachFi market", Schema: supplySchema, Execute: p.supply},
		{Name: "machfiBorrow", Summary: "Borrow against supplied collateral", Schema: borrowSchema, Execute: p.borrow},
		{Name: "machfiRepay", Summary: "Repay an outstanding MachFi borrow", Schema: repaySchema, Execute: p.repay},
		{Name: "machfiWithdraw", Summary: "Withdraw supplied underlying from MachFi", Schema: withdrawSchema, Execute: p.withdraw},
		{Name: "machfiAccountLiquidity", Summary: "Report borrowing power and shortfall in USD", Schema: liquiditySchema, Execute: p.accountLiquidity},
	}
}

func (p *Provider) Actions() []providers.ActionDescriptor {
	return []providers.ActionDescriptor{
		{ActionID: "check-borrowing-power", Operation: "machfiAccountLiquidity", Description: "Show MachFi account liquidity"},
		{ActionID: "supply-usdc", Operation: "machfiSupply", Description: "Supply USDC.e to MachFi", Defaults: map[string]any{"token": "USDC.e"}},
		{ActionID: "borrow-s", Operation: "machfiBorrow", Description: "Borrow S from MachFi", Defaults: map[string]any{"token": "S"}},
	}
}

// market returns the MachFi market for token. wS shares the native S market.
func (p *Provider) market(token id.Token) (common.Address, error) {
	if addr, ok := p.env.Contracts.MachFiMarket(token.Symbol); ok {
		return addr, nil
	}
	if strings.EqualFold(token.Address, p.env.Contracts.WrappedNative) {
		if addr, ok := p.env.Contracts.MachFiMarket("S"); ok {
			return addr, nil
		}
	}
	return common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no MachFi market configured for %s", token.Symbol))
}

func (p *Provider) comptroller() (common.Address, error) {
	if !common.IsHexAddress(p.env.Contracts.MachFiComptroller) {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, "MachFi comptroller address is not configured")
	}
	return common.HexToAddress(p.env.Contracts.MachFiComptroller), nil
}

func (p *Provider) oracle(ctx context.Context, w execution.Wallet) (common.Address, error) {
	if common.IsHexAddress(p.env.Contracts.MachFiOracle) {
		return common.HexToAddress(p.env.Contracts.MachFiOracle), nil
	}
	comptroller, err := p.comptroller()
	if err != nil {
		return common.Address{}, err
	}
	out, err := execution.Call(ctx, w, comptrollerABI, comptroller, "oracle")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "MachFi comptroller returned no price oracle")
	}
	return addr, nil
}

func (p *Provider) price(ctx context.Context, w execution.Wallet, market common.Address) (*big.Int, error) {
	oracle, err := p.oracle(ctx, w)
	if err != nil {
		return nil, err
	}
	price, err := execution.ReadUint(ctx, w, oracleABI, oracle, "getUnderlyingPrice", market)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("MachFi oracle has no price for market %s", market.Hex()))
	}
	return price, nil
}

// Convert prices amount in to using the MachFi oracle. Oracle prices are
// scaled by 1e(36-decimals), so the ratio lands directly in to's base units.
func (p *Provider) Convert(ctx context.Context, w execution.Wallet, amount id.Amount, to id.Token) (id.Amount, error) {
	from, ok := id.LookupToken(p.env.Chain, amount.Symbol)
	if !ok {
		return id.Amount{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("cannot price unknown token %s", amount.Symbol))
	}
	fromMarket, err := p.market(from)
	if err != nil {
		return id.Amount{}, err
	}
	toMarket, err := p.market(to)
	if err != nil {
		return id.Amount{}, err
	}
	fromPrice, err := p.price(ctx, w, fromMarket)
	if err != nil {
		return id.Amount{}, err
	}
	toPrice, err := p.price(ctx, w, toMarket)
	if err != nil {
		return id.Amount{}, err
	}
	value := new(big.Int).Mul(amount.Value, fromPrice)
	value.Quo(value, toPrice)
	return id.NewAmount(value, to), nil
}

func (p *Provider) supply(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req request
	if err := providers.Bind(supplySchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	market, err := p.market(token)
	if err != nil {
		return providers.Result{}, err
	}
	if _, err := execution.RequireBalance(ctx, w, token, amount); err != nil {
		return providers.Result{}, err
	}

	action := execution.NewAction("machfiSupply", "machfi", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(token, amount))
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"market": market.Hex(), "token": token.Symbol}
	if err := execution.AppendApprovalIfNeeded(ctx, w, &action, token, market, amount, p.env.AutoApprove); err != nil {
		return providers.Result{}, err
	}
	if req.Collateral {
		if err := p.appendEnterMarket(ctx, w, &action, market, token); err != nil {
			return providers.Result{}, err
		}
	}
	description := fmt.Sprintf("Supply %s %s to MachFi", amount.String(), token.Symbol)
	if token.IsNative() {
		data, err := execution.Pack(cEtherABI, "mint")
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("supply", execution.StepTypeLend, description, market, data, amount.Value)
	} else {
		data, err := execution.Pack(cErc20ABI, "mint", amount.Value)
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("supply", execution.StepTypeLend, description, market, data, nil).ExpectZeroReturn = true
	}

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Supplied %s %s to MachFi", amount.String(), token.Symbol),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

func (p *Provider) appendEnterMarket(ctx context.Context, w execution.Wallet, action *execution.Action, market common.Address, token id.Token) error {
	comptroller, err := p.comptroller()
	if err != nil {
		return err
	}
	out, err := execution.Call(ctx, w, comptrollerABI, comptroller, "checkMembership", w.Address(), market)
	if err != nil {
		return err
	}
	if member, ok := out[0].(bool); ok && member {
		return nil
	}
	data, err := execution.Pack(comptrollerABI, "enterMarkets", []common.Address{market})
	if err != nil {
		return err
	}
	action.AddCall("enter-market", execution.StepTypeLend, fmt.Sprintf("Use %s as MachFi collateral", token.Symbol), comptroller, data, nil)
	return nil
}

// BorrowingPower returns how much of token the account can still borrow.
func (p *Provider) BorrowingPower(ctx context.Context, w execution.Wallet, token id.Token) (id.Amount, error) {
	market, err := p.market(token)
	if err != nil {
		return id.Amount{}, err
	}
	liquidity, shortfall, err := p.liquidity(ctx, w)
	if err != nil {
		return id.Amount{}, err
	}
	if shortfall.Sign() > 0 {
		return id.NewAmount(nil, token), nil
	}
	price, err := p.price(ctx, w, market)
	if err != nil {
		return id.Amount{}, err
	}
	value := new(big.Int).Mul(liquidity, expScale)
	value.Quo(value, price)
	return id.NewAmount(value, token), nil
}

func (p *Provider) liquidity(ctx context.Context, w execution.Wallet) (*big.Int, *big.Int, error) {
	comptroller, err := p.comptroller()
	if err != nil {
		return nil, nil, err
	}
	out, err := execution.Call(ctx, w, comptrollerABI, comptroller, "getAccountLiquidity", w.Address())
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 3 {
		return nil, nil, clierr.New(clierr.CodeUnavailable, "invalid getAccountLiquidity response")
	}
	code, _ := out[0].(*big.Int)
	liquidity, _ := out[1].(*big.Int)
	shortfall, _ := out[2].(*big.Int)
	if code == nil || liquidity == nil || shortfall == nil {
		return nil, nil, clierr.New(clierr.CodeUnavailable, "invalid getAccountLiquidity response")
	}
	if code.Sign() != 0 {
		return nil, nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("MachFi comptroller returned error code %s", code.String()))
	}
	return liquidity, shortfall, nil
}

func (p *Provider) borrow(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req request
	if err := providers.Bind(borrowSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	market, err := p.market(token)
	if err != nil {
		return providers.Result{}, err
	}
	power, err := p.BorrowingPower(ctx, w, token)
	if err != nil {
		return providers.Result{}, err
	}
	if err := execution.RequireAmount("borrowing power", amount, power); err != nil {
		return providers.Result{}, err
	}

	data, err := execution.Pack(cErc20ABI, "borrow", amount.Value)
	if err != nil {
		return providers.Result{}, err
	}
	action := execution.NewAction("machfiBorrow", "machfi", p.env.Chain.CAIP2)
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"market": market.Hex(), "token": token.Symbol}
	action.AddCall("borrow", execution.StepTypeLend, fmt.Sprintf("Borrow %s %s from MachFi", amount.String(), token.Symbol), market, data, nil).ExpectZeroReturn = true

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Borrowed %s %s from MachFi", amount.String(), token.Symbol),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

func (p *Provider) repay(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req request
	if err := providers.Bind(repaySchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	market, err := p.market(token)
	if err != nil {
		return providers.Result{}, err
	}
	debtRaw, err := execution.ReadUint(ctx, w, cErc20ABI, market, "borrowBalanceStored", w.Address())
	if err != nil {
		return providers.Result{}, err
	}
	if debtRaw.Sign() == 0 {
		return providers.Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no outstanding %s borrow on MachFi", token.Symbol))
	}
	if debt := id.NewAmount(debtRaw, token); amount.Cmp(debt) > 0 {
		amount = debt
	}
	if _, err := execution.RequireBalance(ctx, w, token, amount); err != nil {
		return providers.Result{}, err
	}

	action := execution.NewAction("machfiRepay", "machfi", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(token, amount))
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"market": market.Hex(), "token": token.Symbol}
	description := fmt.Sprintf("Repay %s %s to MachFi", amount.String(), token.Symbol)
	if token.IsNative() {
		data, err := execution.Pack(cEtherABI, "repayBorrow")
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("repay", execution.StepTypeLend, description, market, data, amount.Value)
	} else {
		if err := execution.AppendApprovalIfNeeded(ctx, w, &action, token, market, amount, p.env.AutoApprove); err != nil {
			return providers.Result{}, err
		}
		data, err := execution.Pack(cErc20ABI, "repayBorrow", amount.Value)
		if err != nil {
			return providers.Result{}, err
		}
		action.AddCall("repay", execution.StepTypeLend, description, market, data, nil).ExpectZeroReturn = true
	}

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Repaid %s %s to MachFi", amount.String(), token.Symbol),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

func (p *Provider) withdraw(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req request
	if err := providers.Bind(withdrawSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	amount, token, err := p.env.Amount(ctx, w, req.Amount, req.Token)
	if err != nil {
		return providers.Result{}, err
	}
	market, err := p.market(token)
	if err != nil {
		return providers.Result{}, err
	}
	supplied, err := p.supplied(ctx, w, market, token)
	if err != nil {
		return providers.Result{}, err
	}
	if err := execution.RequireAmount(token.Symbol+" supplied to MachFi", amount, supplied); err != nil {
		return providers.Result{}, err
	}

	data, err := execution.Pack(cErc20ABI, "redeemUnderlying", amount.Value)
	if err != nil {
		return providers.Result{}, err
	}
	action := execution.NewAction("machfiWithdraw", "machfi", p.env.Chain.CAIP2)
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"market": market.Hex(), "token": token.Symbol}
	action.AddCall("withdraw", execution.StepTypeLend, fmt.Sprintf("Withdraw %s %s from MachFi", amount.String(), token.Symbol), market, data, nil).ExpectZeroReturn = true

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Withdrew %s %s from MachFi", amount.String(), token.Symbol),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

// supplied converts the account's cToken balance to underlying using the
// stored exchange rate.
func (p *Provider) supplied(ctx context.Context, w execution.Wallet, market common.Address, token id.Token) (id.Amount, error) {
	shares, err := execution.ReadUint(ctx, w, cErc20ABI, market, "balanceOf", w.Address())
	if err != nil {
		return id.Amount{}, err
	}
	rate, err := execution.ReadUint(ctx, w, cErc20ABI, market, "exchangeRateStored")
	if err != nil {
		return id.Amount{}, err
	}
	value := new(big.Int).Mul(shares, rate)
	value.Quo(value, expScale)
	return id.NewAmount(value, token), nil
}

func (p *Provider) accountLiquidity(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	if err := providers.Bind(liquiditySchema, params, &struct{}{}); err != nil {
		return providers.Result{}, err
	}
	liquidity, shortfall, err := p.liquidity(ctx, w)
	if err != nil {
		return providers.Result{}, err
	}
	usd := id.Token{Symbol: "USD", Decimals: 18}
	liq := id.NewAmount(liquidity, usd)
	short := id.NewAmount(shortfall, usd)
	msg := fmt.Sprintf("MachFi borrowing power: $%s", liq.String())
	if short.Value.Sign() > 0 {
		msg = fmt.Sprintf("MachFi account is short $%s of collateral", short.String())
	}
	return providers.Result{
		Message: msg,
		Output:  &liq,
		Data:    map[string]any{"liquidity_usd": liq.String(), "shortfall_usd": short.String()},
	}, nil
}
