package providers

import (
	"context"

	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/schema"
)

// Provider is a capability provider: a named set of operations for one
// protocol. Providers are immutable once registered.
type Provider interface {
	Info() model.ProviderInfo
	Operations() []Operation
	SupportsNetwork(chain id.Chain) bool
}

// Executor runs an operation. Parameter validation against the operation
// schema happens here, not in the resolver. A Result may carry tx hashes
// even when an error is returned.
type Executor func(ctx context.Context, w execution.Wallet, params Params) (Result, error)

type Operation struct {
	Name    string
	Summary string
	Schema  schema.Schema
	Execute Executor
}

type Result struct {
	Message  string         `json:"message"`
	TxHashes []string       `json:"tx_hashes,omitempty"`
	Output   *id.Amount     `json:"-"`
	Data     map[string]any `json:"data,omitempty"`
}

// ActionDescriptor is an action id a provider answers to directly, bound to
// one of its operations with default parameters.
type ActionDescriptor struct {
	ActionID    string
	Operation   string
	Description string
	Defaults    map[string]any
}

// ActionDescriber is implemented by providers that publish their own action
// ids.
type ActionDescriber interface {
	Provider
	Actions() []ActionDescriptor
}

// PriceSource converts an amount of one token into the equivalent amount of
// another using on-chain prices.
type PriceSource interface {
	Convert(ctx context.Context, w execution.Wallet, amount id.Amount, to id.Token) (id.Amount, error)
}
