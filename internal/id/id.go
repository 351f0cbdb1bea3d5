package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// NativeAddress stands in for the chain's native coin wherever a token
// address is expected.
const NativeAddress = "0x0000000000000000000000000000000000000000"

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
	// MinAmount is the dust floor in decimal form; derived amounts below it
	// are rejected before submission.
	MinAmount string
}

func (t Token) IsNative() bool {
	return strings.EqualFold(t.Address, NativeAddress)
}

var chainBySlug = map[string]Chain{
	"sonic":       {Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146},
	"mainnet":     {Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146},
	"sonic-blaze": {Name: "Sonic Blaze Testnet", Slug: "sonic-blaze", CAIP2: "eip155:57054", EVMChainID: 57054},
	"blaze":       {Name: "Sonic Blaze Testnet", Slug: "sonic-blaze", CAIP2: "eip155:57054", EVMChainID: 57054},
}

var chainByID = map[int64]Chain{
	146:   chainBySlug["sonic"],
	57054: chainBySlug["sonic-blaze"],
}

// Bootstrap token registry. Unknown addresses are resolved on-chain.
var tokenRegistry = map[int64][]Token{
	146: {
		{Symbol: "S", Address: NativeAddress, Decimals: 18, MinAmount: "0.001"},
		{Symbol: "wS", Address: "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38", Decimals: 18, MinAmount: "0.001"},
		{Symbol: "USDC.e", Address: "0x29219dd400f2Bf60E5a23d13Be72B486D4038894", Decimals: 6, MinAmount: "0.01"},
		{Symbol: "stS", Address: "0xE5DA20F15420aD15DE0fa650600aFc998bbE3955", Decimals: 18, MinAmount: "0.001"},
	},
	57054: {
		{Symbol: "S", Address: NativeAddress, Decimals: 18, MinAmount: "0.001"},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if chainID, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[chainID]; ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain input: %s (expected sonic or sonic-blaze)", input))
}

// LookupToken resolves a registered token by symbol (case-insensitive) or
// address. Aliases such as "usdc" and "ws" are accepted.
func LookupToken(chain Chain, input string) (Token, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, false
	}
	for _, token := range tokenRegistry[chain.EVMChainID] {
		if strings.EqualFold(token.Symbol, raw) || strings.EqualFold(token.Address, raw) {
			return token, true
		}
	}
	switch strings.ToLower(raw) {
	case "usdc", "usdce", "usdc_e":
		return LookupToken(chain, "USDC.e")
	case "sonic", "native":
		return LookupToken(chain, "S")
	case "wsonic":
		return LookupToken(chain, "wS")
	}
	return Token{}, false
}

// MustToken is LookupToken for symbols known to be registered.
func MustToken(chain Chain, symbol string) Token {
	token, ok := LookupToken(chain, symbol)
	if !ok {
		panic(fmt.Sprintf("token %s is not registered for %s", symbol, chain.Slug))
	}
	return token
}

func IsEVMAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}

func Tokens(chain Chain) []Token {
	items := append([]Token(nil), tokenRegistry[chain.EVMChainID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Symbol < items[j].Symbol })
	return items
}
