package app

import (
	"context"
	"strings"

	"github.com/ggonzalez94/sonic-agent/internal/cache"
	"github.com/ggonzalez94/sonic-agent/internal/config"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/execution/signer"
	"github.com/ggonzalez94/sonic-agent/internal/gateway"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/interpreter"
	"github.com/ggonzalez94/sonic-agent/internal/journal"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/providers/machfi"
	"github.com/ggonzalez94/sonic-agent/internal/providers/native"
	"github.com/ggonzalez94/sonic-agent/internal/providers/swapx"
	"github.com/ggonzalez94/sonic-agent/internal/providers/vault"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/ggonzalez94/sonic-agent/internal/version"
	"github.com/rs/zerolog"
)

// WalletDialer opens the wallet used for execution. The returned func
// releases it.
type WalletDialer func(ctx context.Context, settings config.Settings, chain id.Chain) (execution.Wallet, func(), error)

// engine is the wired dispatch stack for one command invocation.
type engine struct {
	chain        id.Chain
	registry     *providers.Registry
	resolver     *resolver.Resolver
	orchestrator *strategy.Orchestrator
	logger       zerolog.Logger
}

func buildEngine(settings config.Settings, tokens *cache.Store, logger zerolog.Logger) (*engine, error) {
	chain, err := id.ParseChain(settings.Chain)
	if err != nil {
		return nil, err
	}
	var store providers.TokenStore
	if tokens != nil {
		store = tokens
	}
	env := providers.Env{
		Chain:     chain,
		Contracts: registry.DefaultContracts(chain.EVMChainID).Merge(settings.Contracts),
		Execute: execution.ExecuteOptions{
			Simulate:         settings.Simulate,
			AllowMaxApproval: settings.AllowMaxApproval,
			LockDir:          settings.LockDir,
			LockTimeout:      settings.LockTimeout,
		},
		AutoApprove: settings.AutoApprove,
		Tokens:      providers.NewTokenResolver(chain, store),
	}

	lending := machfi.New(env)
	reg, err := providers.NewRegistry(native.New(env), lending, swapx.New(env), vault.New(env))
	if err != nil {
		return nil, err
	}

	var interp resolver.Interpreter
	if strings.TrimSpace(settings.InterpreterURL) != "" {
		client, err := interpreter.New(settings.InterpreterURL, settings.InterpreterAPIKey, settings.Timeout, version.CLIName+"/"+version.CLIVersion)
		if err != nil {
			return nil, err
		}
		interp = client
	}
	res := resolver.New(reg, chain, interp, resolver.WithLogger(logger))

	var prices providers.PriceSource
	if lending.SupportsNetwork(chain) {
		prices = lending
	}
	orch := strategy.New(res, prices, strategy.WithLogger(logger))
	return &engine{chain: chain, registry: reg, resolver: res, orchestrator: orch, logger: logger}, nil
}

func (e *engine) gateway(w execution.Wallet, runs *journal.Journal) *gateway.Gateway {
	opts := []gateway.Option{gateway.WithLogger(e.logger)}
	if runs != nil {
		opts = append(opts, gateway.WithRecorder(runs))
	}
	return gateway.New(e.resolver, e.orchestrator, w, opts...)
}

// dialEVMWallet loads the local signer and connects to the configured RPC.
func dialEVMWallet(ctx context.Context, settings config.Settings, chain id.Chain) (execution.Wallet, func(), error) {
	txSigner, err := signer.NewLocalSignerFromEnv(settings.KeySource)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, chain.EVMChainID)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	w, err := execution.DialWallet(ctx, rpcURL, chain, txSigner, execution.WalletOptions{
		PollInterval:       settings.PollInterval,
		ReceiptTimeout:     settings.ReceiptTimeout,
		GasMultiplier:      settings.GasMultiplier,
		MaxFeeGwei:         settings.MaxFeeGwei,
		MaxPriorityFeeGwei: settings.MaxPriorityFeeGwei,
	})
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}
