package providers

import (
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
)

// Registry is the immutable, ordered provider set. Lookups scan providers in
// registration order, so the first provider wins on shared operation names.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		if p == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Info().Name))
		if name == "" {
			return nil, clierr.New(clierr.CodeInternal, "provider has no name")
		}
		if _, exists := r.byName[name]; exists {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s registered twice", name))
		}
		seen := map[string]struct{}{}
		for _, op := range p.Operations() {
			if op.Execute == nil {
				return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s operation %s has no executor", name, op.Name))
			}
			if _, dup := seen[op.Name]; dup {
				return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s declares operation %s twice", name, op.Name))
			}
			seen[op.Name] = struct{}{}
		}
		r.byName[name] = p
		r.providers = append(r.providers, p)
	}
	return r, nil
}

func (r *Registry) Providers() []Provider {
	return append([]Provider(nil), r.providers...)
}

func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Supporting returns providers that accept chain, in registration order.
func (r *Registry) Supporting(chain id.Chain) []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.SupportsNetwork(chain) {
			out = append(out, p)
		}
	}
	return out
}

// FindOperation returns the first provider on chain exposing name. With fold
// set, names are compared case-insensitively.
func (r *Registry) FindOperation(chain id.Chain, name string, fold bool) (Provider, Operation, bool) {
	if strings.TrimSpace(name) == "" {
		return nil, Operation{}, false
	}
	for _, p := range r.Supporting(chain) {
		for _, op := range p.Operations() {
			if op.Name == name || (fold && strings.EqualFold(op.Name, name)) {
				return p, op, true
			}
		}
	}
	return nil, Operation{}, false
}

// OperationNames is the sorted union of operation names available on chain.
func (r *Registry) OperationNames(chain id.Chain) []string {
	set := map[string]struct{}{}
	for _, p := range r.Supporting(chain) {
		for _, op := range p.Operations() {
			set[op.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Listing(chain id.Chain) []model.ProviderListing {
	out := make([]model.ProviderListing, 0, len(r.providers))
	for _, p := range r.Supporting(chain) {
		item := model.ProviderListing{ProviderInfo: p.Info()}
		for _, op := range p.Operations() {
			item.Operations = append(item.Operations, model.OperationListing{Name: op.Name, Summary: op.Summary})
		}
		if describer, ok := p.(ActionDescriber); ok {
			for _, a := range describer.Actions() {
				item.Actions = append(item.Actions, a.ActionID)
			}
		}
		out = append(out, item)
	}
	return out
}
