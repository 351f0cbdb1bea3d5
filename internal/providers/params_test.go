package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParamsShapes(t *testing.T) {
	cases := []struct {
		raw  string
		kind ParamsKind
		want map[string]any
	}{
		{raw: "", kind: ParamsEmpty, want: map[string]any{}},
		{raw: "3", kind: ParamsPositional, want: map[string]any{"amount": "3"}},
		{raw: " 3  S ", kind: ParamsPositional, want: map[string]any{"amount": "3", "token": "S"}},
		{raw: "3 S 0xabc", kind: ParamsPositional, want: map[string]any{"amount": "3", "token": "S", "to": "0xabc"}},
		{raw: `{"amount":"1.5","token":"USDC.e"}`, kind: ParamsStructured, want: map[string]any{"amount": "1.5", "token": "USDC.e"}},
		{raw: `{not json`, kind: ParamsRaw, want: map[string]any{"raw": "{not json"}},
		{raw: "swap all my S into USDC please", kind: ParamsRaw, want: map[string]any{"raw": "swap all my S into USDC please"}},
	}
	for _, tc := range cases {
		p := ParseParams(tc.raw)
		assert.Equal(t, tc.kind, p.Kind, "kind for %q", tc.raw)
		assert.Equal(t, tc.want, p.Values(), "values for %q", tc.raw)
	}
}

func TestParamsWithKeepsCallerValues(t *testing.T) {
	p := ParseParams("2").With(map[string]any{"amount": "9", "vault": "beefy"})
	assert.Equal(t, ParamsStructured, p.Kind)
	assert.Equal(t, map[string]any{"amount": "2", "vault": "beefy"}, p.Values())
	assert.Equal(t, []string{"amount", "vault"}, p.Keys())
}

func TestParamsString(t *testing.T) {
	assert.Equal(t, "3 S", ParseParams("3   S").String())
	assert.Equal(t, `{"amount":"1"}`, StructuredParams(map[string]any{"amount": "1"}).String())
	assert.Equal(t, "", Params{}.String())
}
