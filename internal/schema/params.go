package schema

import (
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/mitchellh/mapstructure"
)

type FieldType string

const (
	TypeAmount  FieldType = "amount"
	TypeToken   FieldType = "token"
	TypeAddress FieldType = "address"
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeBool    FieldType = "bool"
)

var (
	amountPattern  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	tokenPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{0,15}$`)
)

// Field declares one operation parameter.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Schema is the declared parameter set of an operation.
type Schema struct {
	Fields []Field `json:"fields"`
}

func Fields(fields ...Field) Schema {
	return Schema{Fields: fields}
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks values against the schema. Unknown keys are rejected so a
// misspelled field cannot silently fall back to a default.
func (s Schema) Validate(values map[string]any) error {
	problems := []string{}
	for _, f := range s.Fields {
		raw, ok := values[f.Name]
		if !ok || isBlank(raw) {
			if f.Required && f.Default == nil {
				problems = append(problems, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}
		if msg := checkType(f, raw); msg != "" {
			problems = append(problems, msg)
		}
	}
	unknown := make([]string, 0)
	for key := range values {
		if _, ok := s.Field(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		problems = append(problems, fmt.Sprintf("unknown parameter %s", key))
	}
	if len(problems) > 0 {
		return clierr.New(clierr.CodeUsage, "invalid parameters: "+strings.Join(problems, "; "))
	}
	return nil
}

// Bind validates values, applies defaults and decodes them into out, a
// pointer to a struct tagged with `mapstructure`.
func (s Schema) Bind(values map[string]any, out any) error {
	if err := s.Validate(values); err != nil {
		return err
	}
	merged := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if f.Default != nil {
			merged[f.Name] = f.Default
		}
	}
	for k, v := range values {
		if !isBlank(v) {
			merged[k] = v
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build parameter decoder", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid parameters", err)
	}
	return nil
}

func checkType(f Field, raw any) string {
	str := strings.TrimSpace(fmt.Sprint(raw))
	switch f.Type {
	case TypeAmount:
		if n, ok := raw.(float64); ok {
			str = strconv.FormatFloat(n, 'f', -1, 64)
		}
		if !amountPattern.MatchString(str) {
			return fmt.Sprintf("%s must be a decimal amount like 1.5", f.Name)
		}
	case TypeAddress:
		if !addressPattern.MatchString(str) {
			return fmt.Sprintf("%s must be a 0x address", f.Name)
		}
	case TypeToken:
		if !tokenPattern.MatchString(str) && !addressPattern.MatchString(str) {
			return fmt.Sprintf("%s must be a token symbol or address", f.Name)
		}
	case TypeInteger:
		if _, ok := new(big.Int).SetString(str, 10); !ok {
			return fmt.Sprintf("%s must be an integer", f.Name)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(str); err != nil {
			return fmt.Sprintf("%s must be true or false", f.Name)
		}
	}
	return ""
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
