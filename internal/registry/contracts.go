package registry

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Contracts is the protocol address book for one chain. Only the wrapped
// native token ships with a default; protocol deployments come from config.
type Contracts struct {
	WrappedNative string `yaml:"wrapped_native" json:"wrapped_native"`

	MachFiComptroller string            `yaml:"machfi_comptroller" json:"machfi_comptroller,omitempty"`
	MachFiOracle      string            `yaml:"machfi_oracle" json:"machfi_oracle,omitempty"`
	MachFiMarkets     map[string]string `yaml:"machfi_markets" json:"machfi_markets,omitempty"`

	SwapXRouter string `yaml:"swapx_router" json:"swapx_router,omitempty"`
	SwapXQuoter string `yaml:"swapx_quoter" json:"swapx_quoter,omitempty"`

	// Vaults maps a short vault name (used in action ids such as
	// deposit-<name>) to an ERC-4626 vault address.
	Vaults       map[string]string `yaml:"vaults" json:"vaults,omitempty"`
	DefaultVault string            `yaml:"default_vault" json:"default_vault,omitempty"`
}

var wrappedNativeByChainID = map[int64]string{
	146:   "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38",
	57054: "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38",
}

func DefaultContracts(chainID int64) Contracts {
	return Contracts{WrappedNative: wrappedNativeByChainID[chainID]}
}

// Merge overlays non-empty values from override onto c.
func (c Contracts) Merge(override Contracts) Contracts {
	out := c
	setIf := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setIf(&out.WrappedNative, override.WrappedNative)
	setIf(&out.MachFiComptroller, override.MachFiComptroller)
	setIf(&out.MachFiOracle, override.MachFiOracle)
	setIf(&out.SwapXRouter, override.SwapXRouter)
	setIf(&out.SwapXQuoter, override.SwapXQuoter)
	setIf(&out.DefaultVault, override.DefaultVault)
	out.MachFiMarkets = mergeAddressMap(c.MachFiMarkets, override.MachFiMarkets)
	out.Vaults = mergeAddressMap(c.Vaults, override.Vaults)
	return out
}

// MachFiMarket returns the market address for an underlying token symbol.
func (c Contracts) MachFiMarket(symbol string) (common.Address, bool) {
	return lookupAddress(c.MachFiMarkets, symbol)
}

// Vault returns the vault address by name, falling back to DefaultVault when
// name is empty.
func (c Contracts) Vault(name string) (common.Address, string, bool) {
	if strings.TrimSpace(name) == "" {
		name = c.DefaultVault
	}
	addr, ok := lookupAddress(c.Vaults, name)
	return addr, strings.ToLower(strings.TrimSpace(name)), ok
}

func (c Contracts) VaultNames() []string {
	names := make([]string, 0, len(c.Vaults))
	for name := range c.Vaults {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

func mergeAddressMap(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range override {
		if strings.TrimSpace(v) != "" {
			out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
	return out
}

func lookupAddress(m map[string]string, key string) (common.Address, bool) {
	norm := strings.ToLower(strings.TrimSpace(key))
	if norm == "" {
		return common.Address{}, false
	}
	for k, v := range m {
		if strings.ToLower(strings.TrimSpace(k)) == norm && common.IsHexAddress(v) {
			return common.HexToAddress(v), true
		}
	}
	return common.Address{}, false
}
