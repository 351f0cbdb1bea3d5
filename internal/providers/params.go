package providers

import (
	"encoding/json"
	"sort"
	"strings"
)

type ParamsKind int

const (
	ParamsEmpty ParamsKind = iota
	ParamsPositional
	ParamsStructured
	ParamsRaw
)

func (k ParamsKind) String() string {
	switch k {
	case ParamsPositional:
		return "positional"
	case ParamsStructured:
		return "structured"
	case ParamsRaw:
		return "raw"
	default:
		return "empty"
	}
}

// positionalNames maps whitespace-separated values onto field names.
var positionalNames = []string{"amount", "token", "to"}

// Params is the normalized parameter set of a request. Exactly one of
// Positional, Fields or Raw is meaningful, selected by Kind.
type Params struct {
	Kind       ParamsKind
	Positional []string
	Fields     map[string]any
	Raw        string
}

// ParseParams normalizes free-form request parameters. Input starting with
// "{" is decoded as a JSON object (kept raw when invalid); up to three
// whitespace-separated values are positional; anything else is kept raw.
func ParseParams(raw string) Params {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return Params{Kind: ParamsEmpty}
	}
	if strings.HasPrefix(clean, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(clean), &fields); err != nil {
			return Params{Kind: ParamsRaw, Raw: clean}
		}
		return StructuredParams(fields)
	}
	parts := strings.Fields(clean)
	if len(parts) <= len(positionalNames) {
		return Params{Kind: ParamsPositional, Positional: parts}
	}
	return Params{Kind: ParamsRaw, Raw: clean}
}

func StructuredParams(fields map[string]any) Params {
	if len(fields) == 0 {
		return Params{Kind: ParamsEmpty}
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Params{Kind: ParamsStructured, Fields: cp}
}

// Values flattens the params into named fields. Raw input is exposed as the
// "raw" field so schemas that do not declare it reject it.
func (p Params) Values() map[string]any {
	out := map[string]any{}
	switch p.Kind {
	case ParamsPositional:
		for i, v := range p.Positional {
			out[positionalNames[i]] = v
		}
	case ParamsStructured:
		for k, v := range p.Fields {
			out[k] = v
		}
	case ParamsRaw:
		out["raw"] = p.Raw
	}
	return out
}

// With returns params where defaults fill any field the caller left unset.
func (p Params) With(defaults map[string]any) Params {
	if len(defaults) == 0 {
		return p
	}
	values := p.Values()
	for k, v := range defaults {
		if _, ok := values[k]; !ok {
			values[k] = v
		}
	}
	return StructuredParams(values)
}

func (p Params) String() string {
	switch p.Kind {
	case ParamsPositional:
		return strings.Join(p.Positional, " ")
	case ParamsStructured:
		buf, err := json.Marshal(p.Fields)
		if err != nil {
			return ""
		}
		return string(buf)
	case ParamsRaw:
		return p.Raw
	default:
		return ""
	}
}

// Keys lists the populated field names in sorted order.
func (p Params) Keys() []string {
	values := p.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
