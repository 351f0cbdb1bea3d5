package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	path := writeConfig(t, "output: plain\nretries: 1\nchain: sonic\nlog_level: info\n")
	t.Setenv("SONIC_AGENT_OUTPUT", "json")
	t.Setenv("SONIC_AGENT_CHAIN", "sonic-blaze")
	t.Setenv("SONIC_AGENT_LOG_LEVEL", "debug")

	settings, err := Load(GlobalFlags{ConfigPath: path, Plain: true, Retries: 5, LogLevel: "error"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Chain != "sonic-blaze" {
		t.Fatalf("expected env chain over file, got %s", settings.Chain)
	}
	if settings.LogLevel != "error" {
		t.Fatalf("expected flag log level, got %s", settings.LogLevel)
	}
}

func TestLoadContractsAndExecutionFromFile(t *testing.T) {
	path := writeConfig(t, `
contracts:
  machfi_comptroller: "0x00000000000000000000000000000000000000c0"
  machfi_markets:
    USDC.e: "0x00000000000000000000000000000000000000c1"
  vaults:
    ws: "0x00000000000000000000000000000000000000e2"
  default_vault: ws
execution:
  simulate: false
  auto_approve: true
  receipt_timeout: 45s
  gas_multiplier: 1.5
journal:
  enabled: true
interpreter:
  url: https://agent.example.com/interpret
  api_key_env: TEST_INTERPRETER_KEY
`)
	t.Setenv("TEST_INTERPRETER_KEY", "secret")
	settings, err := Load(GlobalFlags{ConfigPath: path, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := settings.Contracts.MachFiMarket("usdc.e"); !ok {
		t.Fatalf("expected machfi market, got %+v", settings.Contracts.MachFiMarkets)
	}
	if _, name, ok := settings.Contracts.Vault(""); !ok || name != "ws" {
		t.Fatalf("expected default vault ws, got %q ok=%v", name, ok)
	}
	if settings.Simulate || !settings.AutoApprove {
		t.Fatalf("unexpected execution toggles: simulate=%v auto_approve=%v", settings.Simulate, settings.AutoApprove)
	}
	if settings.ReceiptTimeout != 45*time.Second || settings.GasMultiplier != 1.5 {
		t.Fatalf("unexpected wallet options: %s %v", settings.ReceiptTimeout, settings.GasMultiplier)
	}
	if !settings.JournalEnabled {
		t.Fatal("expected journal enabled")
	}
	if settings.InterpreterAPIKey != "secret" {
		t.Fatalf("expected interpreter key from env indirection, got %q", settings.InterpreterAPIKey)
	}
	if settings.Retries != 2 {
		t.Fatalf("expected default retries, got %d", settings.Retries)
	}
}

func TestLoadDefaultsUseXDGCache(t *testing.T) {
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.JournalPath != filepath.Join(cacheHome, "sonic-agent", "runs.db") {
		t.Fatalf("unexpected journal path: %s", settings.JournalPath)
	}
	if settings.LockDir != filepath.Join(cacheHome, "sonic-agent", "locks") {
		t.Fatalf("unexpected lock dir: %s", settings.LockDir)
	}
	if !settings.Simulate || settings.JournalEnabled {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestLoadRejectsBadEnvBool(t *testing.T) {
	t.Setenv("SONIC_AGENT_AUTO_APPROVE", "maybe")
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1}); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}
