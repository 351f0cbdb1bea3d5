package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

// Source is where a request came from.
type Source string

const (
	SourceButton   Source = "button"
	SourceMenu     Source = "menu"
	SourceCallback Source = "callback"
	SourceCommand  Source = "command"
	SourceText     Source = "text"
	SourceCLI      Source = "cli"
	SourceAPI      Source = "api"
)

type Origin int

const (
	// Implicit requests come from passive UI gestures such as pre-rendered
	// buttons and are not trusted to move funds.
	Implicit Origin = iota
	Explicit
)

func (o Origin) String() string {
	if o == Explicit {
		return "explicit"
	}
	return "implicit"
}

// transactionalIDs are action ids known to move funds or change on-chain
// state.
var transactionalIDs = map[string]struct{}{
	"wrap-s":                       {},
	"unwrap-s":                     {},
	"swap":                         {},
	"transfer":                     {},
	"borrow":                       {},
	"supply":                       {},
	"repay":                        {},
	"withdraw":                     {},
	"deposit":                      {},
	"execute-machfi-delta-neutral": {},
	"execute-wrap-and-deposit":     {},
	"machfi-supply":                {},
	"machfi-borrow":                {},
	"machfi-repay":                 {},
	"machfi-withdraw":              {},
	"swapx-swap":                   {},
	"vault-deposit":                {},
	"withdraw-from-vault":          {},
}

// transactionalOperations are provider operation names that move funds,
// lowercased. The heuristic resolver tier binds ids equal to an operation
// name or to one of their hyphen segments, so these are checked too.
var transactionalOperations = map[string]struct{}{
	"wraps":             {},
	"unwraps":           {},
	"transfer":          {},
	"swapxswap":         {},
	"machfisupply":      {},
	"machfiborrow":      {},
	"machfirepay":       {},
	"machfiwithdraw":    {},
	"vaultdeposit":      {},
	"withdrawfromvault": {},
}

// IsTransactionalOperation reports whether a provider operation moves funds.
func IsTransactionalOperation(name string) bool {
	_, ok := transactionalOperations[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func knownMoneyMoving(v string) bool {
	if _, ok := transactionalIDs[v]; ok {
		return true
	}
	_, ok := transactionalOperations[v]
	return ok
}

type Classification struct {
	Transactional bool   `json:"transactional"`
	Reason        string `json:"reason,omitempty"`
}

// Classify reports whether actionID may move funds. Unknown ids that look
// like money movement are treated as transactional.
func Classify(actionID string) Classification {
	norm := strings.ToLower(strings.TrimSpace(actionID))
	if knownMoneyMoving(norm) {
		return Classification{Transactional: true, Reason: "known money-moving action"}
	}
	if knownMoneyMoving(strings.ReplaceAll(norm, "-", "")) {
		return Classification{Transactional: true, Reason: "names a money-moving operation"}
	}
	for _, segment := range strings.Split(norm, "-") {
		if knownMoneyMoving(segment) {
			return Classification{Transactional: true, Reason: "names a money-moving operation"}
		}
	}
	switch {
	case strings.HasPrefix(norm, "execute-"):
		return Classification{Transactional: true, Reason: "strategy execution"}
	case strings.HasPrefix(norm, "swap"):
		return Classification{Transactional: true, Reason: "swap"}
	case strings.HasPrefix(norm, "deposit-"), strings.HasPrefix(norm, "withdraw-"):
		return Classification{Transactional: true, Reason: "vault movement"}
	}
	for _, word := range []string{"supply", "borrow", "repay"} {
		if strings.Contains(norm, word) {
			return Classification{Transactional: true, Reason: "lending " + word}
		}
	}
	return Classification{}
}

// OriginOf maps a request source onto its trust level. Unknown sources are
// implicit.
func OriginOf(source Source) Origin {
	switch Source(strings.ToLower(strings.TrimSpace(string(source)))) {
	case SourceCommand, SourceText, SourceCLI, SourceAPI:
		return Explicit
	default:
		return Implicit
	}
}

type Request struct {
	ActionID string
	// Params is the raw parameter text, echoed into the explicit command form.
	Params          string
	Source          Source
	SafePassThrough bool
}

// ExplicitCommand is the typed form a caller can send to confirm req.
func ExplicitCommand(actionID, params string) string {
	cmd := "/do " + strings.TrimSpace(actionID)
	if p := strings.TrimSpace(params); p != "" {
		cmd += " " + p
	}
	return cmd
}

// Gate refuses implicit transactional requests unless they were tagged as a
// safe pass-through.
func Gate(req Request) error {
	if req.SafePassThrough || OriginOf(req.Source) == Explicit {
		return nil
	}
	if !Classify(req.ActionID).Transactional {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf(
		"%s moves funds and cannot run from a %s tap; send it as a command to confirm: %s",
		req.ActionID, sourceLabel(req.Source), ExplicitCommand(req.ActionID, req.Params),
	))
}

// GateOperation re-checks an implicit request against the operation it was
// bound to. An empty operation means the free-text interpreter, which may
// move funds, and is refused the same way.
func GateOperation(req Request, operation string) error {
	if req.SafePassThrough || OriginOf(req.Source) == Explicit {
		return nil
	}
	if strings.TrimSpace(operation) != "" && !IsTransactionalOperation(operation) {
		return nil
	}
	target := operation
	if strings.TrimSpace(target) == "" {
		target = "the interpreter"
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf(
		"%s resolves to %s, which can move funds and cannot run from a %s tap; send it as a command to confirm: %s",
		req.ActionID, target, sourceLabel(req.Source), ExplicitCommand(req.ActionID, req.Params),
	))
}

func sourceLabel(source Source) string {
	if strings.TrimSpace(string(source)) == "" {
		return "UI"
	}
	return string(source)
}
