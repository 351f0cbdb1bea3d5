package resolver

import (
	"strings"
	"unicode"

	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
)

// Strategy is one resolution tier. Tiers are tried in order and the first
// hit wins.
type Strategy interface {
	Tier() Tier
	TryResolve(reg *providers.Registry, chain id.Chain, actionID string, params providers.Params) (Handler, bool)
}

// DirectTable maps the highest-traffic action ids onto operation names.
var DirectTable = map[string]string{
	"wrap-s":   "wrapS",
	"unwrap-s": "unwrapS",
	"swap":     "swapxSwap",
	"transfer": "transfer",
	"borrow":   "machfiBorrow",
	"supply":   "machfiSupply",
	"repay":    "machfiRepay",
	"withdraw": "withdrawFromVault",
	"deposit":  "vaultDeposit",
	"balance":  "getBalance",
}

type ConventionRule struct {
	Prefix   string
	OpPrefix string
}

// ConventionRules are checked in order; longer prefixes come first.
var ConventionRules = []ConventionRule{
	{Prefix: "withdraw-from-", OpPrefix: "withdrawFrom"},
	{Prefix: "machfi-", OpPrefix: "machfi"},
	{Prefix: "swapx-", OpPrefix: "swapx"},
	{Prefix: "vault-", OpPrefix: "vault"},
}

// DefaultTiers returns the ordered tiers before the fallback.
func DefaultTiers() []Strategy {
	return []Strategy{
		directTier{table: DirectTable},
		conventionTier{rules: ConventionRules},
		selfDescriptionTier{},
		heuristicTier{},
	}
}

type directTier struct {
	table map[string]string
}

func (directTier) Tier() Tier { return TierDirect }

func (t directTier) TryResolve(reg *providers.Registry, chain id.Chain, actionID string, params providers.Params) (Handler, bool) {
	name, ok := t.table[normalizeID(actionID)]
	if !ok {
		return Handler{}, false
	}
	p, op, ok := reg.FindOperation(chain, name, false)
	if !ok {
		return Handler{}, false
	}
	return bind(actionID, TierDirect, p, op, params), true
}

type conventionTier struct {
	rules []ConventionRule
}

func (conventionTier) Tier() Tier { return TierConvention }

func (t conventionTier) TryResolve(reg *providers.Registry, chain id.Chain, actionID string, params providers.Params) (Handler, bool) {
	// An id a provider publishes itself carries its defaults; leave it to
	// self-description.
	if _, ok := (selfDescriptionTier{}).TryResolve(reg, chain, actionID, params); ok {
		return Handler{}, false
	}
	norm := normalizeID(actionID)
	for _, rule := range t.rules {
		suffix, ok := strings.CutPrefix(norm, rule.Prefix)
		if !ok || suffix == "" {
			continue
		}
		p, op, ok := reg.FindOperation(chain, rule.OpPrefix+CamelSuffix(suffix), false)
		if ok {
			return bind(actionID, TierConvention, p, op, params), true
		}
	}
	return Handler{}, false
}

type selfDescriptionTier struct{}

func (selfDescriptionTier) Tier() Tier { return TierSelfDescription }

func (selfDescriptionTier) TryResolve(reg *providers.Registry, chain id.Chain, actionID string, params providers.Params) (Handler, bool) {
	norm := normalizeID(actionID)
	for _, p := range reg.Supporting(chain) {
		describer, ok := p.(providers.ActionDescriber)
		if !ok {
			continue
		}
		for _, action := range describer.Actions() {
			if normalizeID(action.ActionID) != norm {
				continue
			}
			for _, op := range p.Operations() {
				if op.Name == action.Operation {
					return bind(actionID, TierSelfDescription, p, op, params.With(action.Defaults)), true
				}
			}
		}
	}
	return Handler{}, false
}

type heuristicTier struct{}

func (heuristicTier) Tier() Tier { return TierHeuristic }

func (heuristicTier) TryResolve(reg *providers.Registry, chain id.Chain, actionID string, params providers.Params) (Handler, bool) {
	for _, candidate := range Candidates(actionID) {
		if p, op, ok := reg.FindOperation(chain, candidate, true); ok {
			return bind(actionID, TierHeuristic, p, op, params), true
		}
	}
	return Handler{}, false
}

// Candidates lists heuristic operation names for an action id: the id as
// given, the id with hyphens removed, then each hyphen-delimited segment.
func Candidates(actionID string) []string {
	raw := strings.TrimSpace(actionID)
	if raw == "" {
		return nil
	}
	seen := map[string]bool{}
	out := []string{}
	add := func(v string) {
		if v == "" || seen[strings.ToLower(v)] {
			return
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	add(raw)
	add(strings.ReplaceAll(raw, "-", ""))
	for _, segment := range strings.Split(raw, "-") {
		add(segment)
	}
	return out
}

// CamelSuffix turns "account-liquidity" into "AccountLiquidity".
func CamelSuffix(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || unicode.IsSpace(r) }) {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

func normalizeID(actionID string) string {
	return strings.ToLower(strings.TrimSpace(actionID))
}
