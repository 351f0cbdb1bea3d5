// Package providertest provides a scriptable providers.Provider for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
)

type Call struct {
	Operation string
	Params    providers.Params
}

// Provider records every executor invocation. It supports all chains unless
// Chains is set.
type Provider struct {
	Name   string
	Chains []int64

	ops         []providers.Operation
	descriptors []providers.ActionDescriptor

	mu    sync.Mutex
	calls []Call
}

func New(name string) *Provider {
	return &Provider{Name: name}
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: p.Name, Type: "test"}
}

func (p *Provider) SupportsNetwork(chain id.Chain) bool {
	if len(p.Chains) == 0 {
		return true
	}
	for _, c := range p.Chains {
		if c == chain.EVMChainID {
			return true
		}
	}
	return false
}

func (p *Provider) Operations() []providers.Operation {
	return append([]providers.Operation(nil), p.ops...)
}

func (p *Provider) Actions() []providers.ActionDescriptor {
	return append([]providers.ActionDescriptor(nil), p.descriptors...)
}

// Op registers an operation backed by fn.
func (p *Provider) Op(name string, fn providers.Executor) *Provider {
	p.ops = append(p.ops, providers.Operation{
		Name:    name,
		Summary: name,
		Execute: func(ctx context.Context, w execution.Wallet, params providers.Params) (providers.Result, error) {
			p.mu.Lock()
			p.calls = append(p.calls, Call{Operation: name, Params: params})
			p.mu.Unlock()
			return fn(ctx, w, params)
		},
	})
	return p
}

// Returning registers an operation with a canned outcome.
func (p *Provider) Returning(name string, res providers.Result, err error) *Provider {
	return p.Op(name, func(context.Context, execution.Wallet, providers.Params) (providers.Result, error) {
		return res, err
	})
}

func (p *Provider) Describe(actionID, operation string, defaults map[string]any) *Provider {
	p.descriptors = append(p.descriptors, providers.ActionDescriptor{ActionID: actionID, Operation: operation, Defaults: defaults})
	return p
}

func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
