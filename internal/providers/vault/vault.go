// Package vault deposits into and withdraws from ERC-4626 yield vaults named
// in config.
package vault

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
	vaultABI = execution.MustABI(registry.ERC4626ABI)

	depositSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true, Description: "amount of the vault asset"},
		schema.Field{Name: "token", Type: schema.TypeToken, Description: "must match the vault asset when set"},
		schema.Field{Name: "vault", Type: schema.TypeString, Description: "configured vault name; defaults to default_vault"},
	)
	withdrawSchema = schema.Fields(
		schema.Field{Name: "amount", Type: schema.TypeAmount, Required: true, Description: "amount of the vault asset"},
		schema.Field{Name: "token", Type: schema.TypeToken, Description: "must match the vault asset when set"},
		schema.Field{Name: "vault", Type: schema.TypeString},
	)
	positionSchema = schema.Fields(
		schema.Field{Name: "vault", Type: schema.TypeString},
	)
)

type request struct {
	Amount string `mapstructure:"amount"`
	Token  string `mapstructure:"token"`
	Vault  string `mapstructure:"vault"`
}

type Provider struct {
	env providers.Env
}

func New(env providers.Env) *Provider {
	return &Provider{env: env}
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "vault",
		Type:         "yield",
		Capabilities: []string{"vault.deposit", "vault.withdraw", "vault.position"},
	}
}

func (p *Provider) SupportsNetwork(chain id.Chain) bool {
	return p.env.SupportsChain(chain) && len(p.env.Contracts.Vaults) > 0
}

func (p *Provider) Operations() []providers.Operation {
	return []providers.Operation{
		{Name: "vaultDeposit", Summary: "Deposit the vault asset into an ERC-4626 vault", Schema: depositSchema, Execute: p.deposit},
		{Name: "withdrawFromVault", Summary: "Withdraw assets from an ERC-4626 vault", Schema: withdrawSchema, Execute: p.withdraw},
		{Name: "vaultPosition", Summary: "Show the withdrawable assets held in a vault", Schema: positionSchema, Execute: p.position},
	}
}

// Actions publishes deposit-<name> and withdraw-from-<name> for every
// configured vault.
func (p *Provider) Actions() []providers.ActionDescriptor {
	names := p.env.Contracts.VaultNames()
	out := make([]providers.ActionDescriptor, 0, len(names)*2)
	for _, name := range names {
		out = append(out,
			providers.ActionDescriptor{
				ActionID:    "deposit-" + name,
				Operation:   "vaultDeposit",
				Description: fmt.Sprintf("Deposit into the %s vault", name),
				Defaults:    map[string]any{"vault": name},
			},
			providers.ActionDescriptor{
				ActionID:    "withdraw-from-" + name,
				Operation:   "withdrawFromVault",
				Description: fmt.Sprintf("Withdraw from the %s vault", name),
				Defaults:    map[string]any{"vault": name},
			},
		)
	}
	return out
}

type target struct {
	name    string
	address common.Address
	asset   id.Token
}

func (p *Provider) target(ctx context.Context, w execution.Wallet, req request) (target, error) {
	addr, name, ok := p.env.Contracts.Vault(req.Vault)
	if !ok {
		if name == "" {
			return target{}, clierr.New(clierr.CodeUsage, "vault is required (no default_vault configured)")
		}
		return target{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown vault %q (configured: %s)", name, strings.Join(p.env.Contracts.VaultNames(), ", ")))
	}
	out, err := execution.Call(ctx, w, vaultABI, addr, "asset")
	if err != nil {
		return target{}, err
	}
	assetAddr, ok := out[0].(common.Address)
	if !ok {
		return target{}, clierr.New(clierr.CodeUnavailable, "invalid vault asset response")
	}
	asset, err := p.env.Token(ctx, w, assetAddr.Hex())
	if err != nil {
		return target{}, err
	}
	if strings.TrimSpace(req.Token) != "" {
		given, err := p.env.Token(ctx, w, req.Token)
		if err != nil {
			return target{}, err
		}
		if !strings.EqualFold(given.Address, asset.Address) {
			return target{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s vault takes %s, not %s", name, asset.Symbol, given.Symbol))
		}
	}
	return target{name: name, address: addr, asset: asset}, nil
}

func (p *Provider) parse(ctx context.Context, w execution.Wallet, s schema.Schema, params providers.Params) (target, id.Amount, error) {
	var req request
	if err := providers.Bind(s, params, &req); err != nil {
		return target{}, id.Amount{}, err
	}
	t, err := p.target(ctx, w, req)
	if err != nil {
		return target{}, id.Amount{}, err
	}
	amount, _, err := p.env.Amount(ctx, w, req.Amount, t.asset.Address)
	if err != nil {
		return target{}, id.Amount{}, err
	}
	return t, amount, nil
}

func (p *Provider) deposit(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	t, amount, err := p.parse(ctx, w, depositSchema, params)
	if err != nil {
		return providers.Result{}, err
	}
	if _, err := execution.RequireBalance(ctx, w, t.asset, amount); err != nil {
		return providers.Result{}, err
	}
	shares, err := execution.ReadUint(ctx, w, vaultABI, t.address, "previewDeposit", amount.Value)
	if err != nil {
		return providers.Result{}, err
	}

	action := execution.NewAction("vaultDeposit", "vault", p.env.Chain.CAIP2)
	action.Require(execution.BalanceCheck(t.asset, amount))
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"vault": t.name, "vault_address": t.address.Hex(), "expected_shares": shares.String()}
	if err := execution.AppendApprovalIfNeeded(ctx, w, &action, t.asset, t.address, amount, p.env.AutoApprove); err != nil {
		return providers.Result{}, err
	}
	data, err := execution.Pack(vaultABI, "deposit", amount.Value, w.Address())
	if err != nil {
		return providers.Result{}, err
	}
	action.AddCall("vault-deposit", execution.StepTypeVault, fmt.Sprintf("Deposit %s %s into the %s vault", amount.String(), t.asset.Symbol, t.name), t.address, data, nil)

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Deposited %s %s into the %s vault", amount.String(), t.asset.Symbol, t.name),
		TxHashes: hashes,
		Output:   &amount,
		Data:     action.Metadata,
	}, nil
}

func (p *Provider) withdrawable(ctx context.Context, w execution.Wallet, t target) (id.Amount, error) {
	raw, err := execution.ReadUint(ctx, w, vaultABI, t.address, "maxWithdraw", w.Address())
	if err != nil {
		return id.Amount{}, err
	}
	return id.NewAmount(raw, t.asset), nil
}

func (p *Provider) withdraw(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	t, amount, err := p.parse(ctx, w, withdrawSchema, params)
	if err != nil {
		return providers.Result{}, err
	}
	available, err := p.withdrawable(ctx, w, t)
	if err != nil {
		return providers.Result{}, err
	}
	if err := execution.RequireAmount(fmt.Sprintf("%s in the %s vault", t.asset.Symbol, t.name), amount, available); err != nil {
		return providers.Result{}, err
	}

	data, err := execution.Pack(vaultABI, "withdraw", amount.Value, w.Address(), w.Address())
	if err != nil {
		return providers.Result{}, err
	}
	action := execution.NewAction("withdrawFromVault", "vault", p.env.Chain.CAIP2)
	action.InputAmount = amount.BaseUnits()
	action.Metadata = map[string]any{"vault": t.name, "vault_address": t.address.Hex()}
	action.AddCall("vault-withdraw", execution.StepTypeVault, fmt.Sprintf("Withdraw %s %s from the %s vault", amount.String(), t.asset.Symbol, t.name), t.address, data, nil)

	hashes, err := p.env.Run(ctx, w, &action)
	if err != nil {
		return providers.Result{TxHashes: hashes}, err
	}
	return providers.Result{
		Message:  fmt.Sprintf("Withdrew %s %s from the %s vault", amount.String(), t.asset.Symbol, t.name),
		TxHashes: hashes,
		Output:   &amount,
	}, nil
}

func (p *Provider) position(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
	var req request
	if err := providers.Bind(positionSchema, params, &req); err != nil {
		return providers.Result{}, err
	}
	t, err := p.target(ctx, w, req)
	if err != nil {
		return providers.Result{}, err
	}
	available, err := p.withdrawable(ctx, w, t)
	if err != nil {
		return providers.Result{}, err
	}
	return providers.Result{
		Message: fmt.Sprintf("%s %s withdrawable from the %s vault", available.Fixed(), t.asset.Symbol, t.name),
		Output:  &available,
		Data:    map[string]any{"vault": t.name, "withdrawable": available.String()},
	}, nil
}
