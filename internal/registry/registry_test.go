package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestABIConstantsParse(t *testing.T) {
	abis := []string{
		ERC20ABI,
		WrappedNativeABI,
		CErc20ABI,
		CEtherABI,
		ComptrollerABI,
		PriceOracleABI,
		SwapXRouterABI,
		SwapXQuoterABI,
		ERC4626ABI,
	}
	for _, raw := range abis {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("failed to parse abi json: %v", err)
		}
	}
}

func TestResolveRPCURL(t *testing.T) {
	override, err := ResolveRPCURL(" https://rpc.example.test ", 146)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}
	if rpc, err := ResolveRPCURL("", 146); err != nil || rpc == "" {
		t.Fatalf("expected sonic default rpc, got rpc=%q err=%v", rpc, err)
	}
	if _, err := ResolveRPCURL("", 8453); err == nil {
		t.Fatal("expected missing default rpc error")
	}
}

func TestContractsMergeAndLookup(t *testing.T) {
	base := DefaultContracts(146)
	if base.WrappedNative == "" {
		t.Fatal("expected wrapped native default for sonic")
	}
	merged := base.Merge(Contracts{
		MachFiMarkets: map[string]string{"USDC.e": "0x00000000000000000000000000000000000000c1"},
		Vaults:        map[string]string{"Beefy": "0x00000000000000000000000000000000000000b1"},
		DefaultVault:  "beefy",
	})
	if merged.WrappedNative != base.WrappedNative {
		t.Fatal("expected empty override to keep the wrapped native default")
	}
	if _, ok := merged.MachFiMarket("usdc.e"); !ok {
		t.Fatal("expected case-insensitive market lookup")
	}
	addr, name, ok := merged.Vault("")
	if !ok || name != "beefy" || addr != common.HexToAddress("0x00000000000000000000000000000000000000b1") {
		t.Fatalf("unexpected default vault: ok=%v name=%s addr=%s", ok, name, addr.Hex())
	}
	if got := merged.VaultNames(); len(got) != 1 || got[0] != "beefy" {
		t.Fatalf("unexpected vault names: %v", got)
	}
}

func TestIsAllowedInterpreterURL(t *testing.T) {
	cases := map[string]bool{
		"https://interpreter.example.com/v1/interpret": true,
		"http://127.0.0.1:8080/interpret":              true,
		"http://localhost:9000":                        true,
		"http://interpreter.example.com":               false,
		"not-a-url":                                    false,
	}
	for endpoint, want := range cases {
		if got := IsAllowedInterpreterURL(endpoint); got != want {
			t.Fatalf("IsAllowedInterpreterURL(%q) = %v, want %v", endpoint, got, want)
		}
	}
}
