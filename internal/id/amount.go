package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Amount is a fixed-point quantity of a token, held in base units at the
// token's declared precision.
type Amount struct {
	Value    *big.Int
	Decimals int
	Symbol   string
}

// ParseAmount converts a decimal string such as "1.25" into base units.
func ParseAmount(decimal string, token Token) (Amount, error) {
	clean := strings.TrimSpace(decimal)
	if !decimalPattern.MatchString(clean) {
		return Amount{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be in decimal form like 1.23", decimal))
	}
	base, err := decimalToBaseUnits(clean, token.Decimals)
	if err != nil {
		return Amount{}, err
	}
	value, _ := new(big.Int).SetString(base, 10)
	return Amount{Value: value, Decimals: token.Decimals, Symbol: token.Symbol}, nil
}

// NewAmount wraps base units for a token. The value is copied.
func NewAmount(value *big.Int, token Token) Amount {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Amount{Value: v, Decimals: token.Decimals, Symbol: token.Symbol}
}

func (a Amount) IsZero() bool {
	return a.Value == nil || a.Value.Sign() == 0
}

func (a Amount) BaseUnits() string {
	if a.Value == nil {
		return "0"
	}
	return a.Value.String()
}

// String renders the shortest decimal form ("1.5").
func (a Amount) String() string {
	return formatDecimal(a.BaseUnits(), a.Decimals)
}

// Fixed renders every declared decimal place ("1.500000").
func (a Amount) Fixed() string {
	return FormatFixed(a.Value, a.Decimals)
}

// MulBps scales the amount by bps/10000, rounding down.
func (a Amount) MulBps(bps int64) Amount {
	out := new(big.Int).Mul(a.valueOrZero(), big.NewInt(bps))
	out.Quo(out, big.NewInt(10_000))
	return Amount{Value: out, Decimals: a.Decimals, Symbol: a.Symbol}
}

// Rescale moves the amount to another precision, truncating extra digits.
func (a Amount) Rescale(token Token) Amount {
	v := new(big.Int).Set(a.valueOrZero())
	switch diff := token.Decimals - a.Decimals; {
	case diff > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil))
	case diff < 0:
		v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-diff)), nil))
	}
	return Amount{Value: v, Decimals: token.Decimals, Symbol: token.Symbol}
}

func (a Amount) Cmp(b Amount) int {
	return a.valueOrZero().Cmp(b.Rescale(Token{Decimals: a.Decimals}).valueOrZero())
}

func (a Amount) valueOrZero() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return a.Value
}

// CheckFloor rejects amounts below the token's dust floor.
func CheckFloor(a Amount, token Token) error {
	if a.Value == nil || a.Value.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s amount must be positive", token.Symbol))
	}
	if strings.TrimSpace(token.MinAmount) == "" {
		return nil
	}
	floor, err := ParseAmount(token.MinAmount, token)
	if err != nil {
		return err
	}
	if a.Rescale(token).Value.Cmp(floor.Value) < 0 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s amount %s is below the minimum of %s", token.Symbol, a.Rescale(token).Fixed(), floor.Fixed()))
	}
	return nil
}

// FormatFixed converts base units into a decimal string that keeps all
// declared decimal places.
func FormatFixed(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	if decimals <= 0 {
		return value.String()
	}
	neg := value.Sign() < 0
	s := new(big.Int).Abs(value).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	out := s[:len(s)-decimals] + "." + s[len(s)-decimals:]
	if neg {
		return "-" + out
	}
	return out
}

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals == 0 {
		return n.String()
	}
	fixed := FormatFixed(n, decimals)
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

// FormatDecimalCompat converts base-unit integer strings into decimal strings.
func FormatDecimalCompat(baseUnits string, decimals int) string {
	return formatDecimal(baseUnits, decimals)
}
