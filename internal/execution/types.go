package execution

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type ActionStatus string

type StepStatus string

type StepType string

const (
	ActionStatusPlanned   ActionStatus = "planned"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSimulated StepStatus = "simulated"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApproval StepType = "approval"
	StepTypeWrap     StepType = "wrap"
	StepTypeTransfer StepType = "transfer"
	StepTypeSwap     StepType = "swap"
	StepTypeLend     StepType = "lend_call"
	StepTypeVault    StepType = "vault_call"
)

// ActionStep is one transaction in a bundle.
type ActionStep struct {
	StepID      string     `json:"step_id"`
	Type        StepType   `json:"type"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	Target      string     `json:"target"`
	Data        string     `json:"data"`
	Value       string     `json:"value"`
	// ExpectZeroReturn marks Compound-style calls that report failure through
	// a non-zero uint return value instead of reverting.
	ExpectZeroReturn bool   `json:"expect_zero_return,omitempty"`
	TxHash           string `json:"tx_hash,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Action is the ordered transaction bundle produced by a provider operation
// (for example approve + mint).
type Action struct {
	ActionID    string         `json:"action_id"`
	Operation   string         `json:"operation"`
	Provider    string         `json:"provider,omitempty"`
	Status      ActionStatus   `json:"status"`
	ChainID     string         `json:"chain_id"`
	FromAddress string         `json:"from_address,omitempty"`
	InputAmount string         `json:"input_amount,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Steps       []ActionStep   `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	checks []Precondition
}

// Precondition is re-checked by ExecuteAction while the wallet lock is held,
// right before the first submission.
type Precondition func(ctx context.Context, w Wallet) error

// Require adds a precondition to the bundle.
func (a *Action) Require(check Precondition) {
	if check != nil {
		a.checks = append(a.checks, check)
	}
}

func NewActionID() string {
	return "act_" + uuid.NewString()
}

func NewAction(operation, provider, chainID string) Action {
	now := time.Now().UTC().Format(time.RFC3339)
	return Action{
		ActionID:  NewActionID(),
		Operation: operation,
		Provider:  provider,
		Status:    ActionStatusPlanned,
		ChainID:   chainID,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     []ActionStep{},
	}
}

// AddCall appends a pending contract call step.
func (a *Action) AddCall(stepID string, stepType StepType, description string, target common.Address, data []byte, value *big.Int) *ActionStep {
	v := "0"
	if value != nil {
		v = value.String()
	}
	a.Steps = append(a.Steps, ActionStep{
		StepID:      stepID,
		Type:        stepType,
		Status:      StepStatusPending,
		Description: description,
		Target:      target.Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       v,
	})
	return &a.Steps[len(a.Steps)-1]
}

// TxHashes lists every hash emitted so far, including failed steps.
func (a Action) TxHashes() []string {
	out := make([]string, 0, len(a.Steps))
	for _, step := range a.Steps {
		if step.TxHash != "" {
			out = append(out, step.TxHash)
		}
	}
	return out
}

func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}
