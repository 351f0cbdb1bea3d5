package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Chain     string    `json:"chain,omitempty"`
}

type ProviderInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

// ProviderListing is the public description of a registered provider.
type ProviderListing struct {
	ProviderInfo
	Operations []OperationListing `json:"operations"`
	Actions    []string           `json:"actions,omitempty"`
}

type OperationListing struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

type StrategyListing struct {
	ID          string   `json:"id"`
	ActionID    string   `json:"action_id"`
	Description string   `json:"description"`
	StartToken  string   `json:"start_token"`
	Steps       []string `json:"steps"`
}

// Resolution describes how an action id was bound, without executing it.
type Resolution struct {
	ActionID  string         `json:"action_id"`
	Provider  string         `json:"provider,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Tier      string         `json:"tier"`
	Params    map[string]any `json:"params,omitempty"`
	Strategy  string         `json:"strategy,omitempty"`
}
