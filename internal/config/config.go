package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/sonic-agent/internal/registry"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SONIC_AGENT_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	Chain          string
	RPCURL         string
	KeySource      string
	LogLevel       string
	NoCache        bool
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	LogLevel       string

	Chain     string
	RPCURL    string
	KeySource string
	Contracts registry.Contracts

	Simulate           bool
	AutoApprove        bool
	AllowMaxApproval   bool
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	LockDir            string
	LockTimeout        time.Duration

	InterpreterURL    string
	InterpreterAPIKey string

	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	JournalEnabled  bool
	JournalPath     string
	JournalLockPath string

	ListenAddr string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Chain    string `yaml:"chain"`
	RPCURL   string `yaml:"rpc_url"`
	Key      struct {
		Source string `yaml:"source"`
	} `yaml:"key"`
	Contracts registry.Contracts `yaml:"contracts"`
	Execution struct {
		Simulate           *bool    `yaml:"simulate"`
		AutoApprove        *bool    `yaml:"auto_approve"`
		AllowMaxApproval   *bool    `yaml:"allow_max_approval"`
		PollInterval       string   `yaml:"poll_interval"`
		ReceiptTimeout     string   `yaml:"receipt_timeout"`
		GasMultiplier      *float64 `yaml:"gas_multiplier"`
		MaxFeeGwei         string   `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string   `yaml:"max_priority_fee_gwei"`
		LockDir            string   `yaml:"lock_dir"`
		LockTimeout        string   `yaml:"lock_timeout"`
	} `yaml:"execution"`
	Interpreter struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"interpreter"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Journal struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
}

// Load layers defaults, the YAML file, SONIC_AGENT_* environment variables and
// flags, in that order.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}
	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := stateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		LogLevel:        "warn",
		Chain:           "sonic",
		KeySource:       "auto",
		Simulate:        true,
		PollInterval:    2 * time.Second,
		ReceiptTimeout:  2 * time.Minute,
		GasMultiplier:   1.2,
		LockDir:         filepath.Join(dir, "locks"),
		LockTimeout:     30 * time.Second,
		CacheEnabled:    true,
		CachePath:       filepath.Join(dir, "cache.db"),
		CacheLockPath:   filepath.Join(dir, "cache.lock"),
		JournalPath:     filepath.Join(dir, "runs.db"),
		JournalLockPath: filepath.Join(dir, "runs.lock"),
		ListenAddr:      "127.0.0.1:8646",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sonic-agent", "config.yaml"), nil
}

func stateDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "sonic-agent"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	setString(&settings.OutputMode, strings.ToLower(cfg.Output))
	setString(&settings.LogLevel, cfg.LogLevel)
	setString(&settings.Chain, cfg.Chain)
	setString(&settings.RPCURL, cfg.RPCURL)
	setString(&settings.KeySource, cfg.Key.Source)
	if err := setDuration(&settings.Timeout, cfg.Timeout, "config timeout"); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	settings.Contracts = settings.Contracts.Merge(cfg.Contracts)

	ex := cfg.Execution
	setBool(&settings.Simulate, ex.Simulate)
	setBool(&settings.AutoApprove, ex.AutoApprove)
	setBool(&settings.AllowMaxApproval, ex.AllowMaxApproval)
	if ex.GasMultiplier != nil {
		settings.GasMultiplier = *ex.GasMultiplier
	}
	setString(&settings.MaxFeeGwei, ex.MaxFeeGwei)
	setString(&settings.MaxPriorityFeeGwei, ex.MaxPriorityFeeGwei)
	setString(&settings.LockDir, ex.LockDir)
	for _, d := range []struct {
		dst  *time.Duration
		raw  string
		name string
	}{
		{&settings.PollInterval, ex.PollInterval, "config execution.poll_interval"},
		{&settings.ReceiptTimeout, ex.ReceiptTimeout, "config execution.receipt_timeout"},
		{&settings.LockTimeout, ex.LockTimeout, "config execution.lock_timeout"},
	} {
		if err := setDuration(d.dst, d.raw, d.name); err != nil {
			return err
		}
	}

	setString(&settings.InterpreterURL, cfg.Interpreter.URL)
	setString(&settings.InterpreterAPIKey, cfg.Interpreter.APIKey)
	if cfg.Interpreter.APIKeyEnv != "" {
		settings.InterpreterAPIKey = os.Getenv(cfg.Interpreter.APIKeyEnv)
	}

	setBool(&settings.CacheEnabled, cfg.Cache.Enabled)
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)
	setBool(&settings.JournalEnabled, cfg.Journal.Enabled)
	setString(&settings.JournalPath, cfg.Journal.Path)
	setString(&settings.JournalLockPath, cfg.Journal.LockPath)
	setString(&settings.ListenAddr, cfg.Server.Listen)
	return nil
}

func applyEnv(settings *Settings) error {
	env := func(name string) string { return strings.TrimSpace(os.Getenv(envPrefix + name)) }

	setString(&settings.OutputMode, strings.ToLower(env("OUTPUT")))
	setString(&settings.LogLevel, env("LOG_LEVEL"))
	setString(&settings.Chain, env("CHAIN"))
	setString(&settings.RPCURL, env("RPC_URL"))
	setString(&settings.KeySource, env("KEY_SOURCE"))
	setString(&settings.InterpreterURL, env("INTERPRETER_URL"))
	setString(&settings.InterpreterAPIKey, env("INTERPRETER_API_KEY"))
	setString(&settings.CachePath, env("CACHE_PATH"))
	setString(&settings.JournalPath, env("JOURNAL_PATH"))
	setString(&settings.LockDir, env("LOCK_DIR"))
	setString(&settings.ListenAddr, env("LISTEN"))

	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	for name, dst := range map[string]*bool{
		"SIMULATE":        &settings.Simulate,
		"AUTO_APPROVE":    &settings.AutoApprove,
		"JOURNAL_ENABLED": &settings.JournalEnabled,
	} {
		if v := env(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}
	if err := setDuration(&settings.Timeout, flags.Timeout, "parse --timeout"); err != nil {
		return err
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	setString(&settings.Chain, flags.Chain)
	setString(&settings.RPCURL, flags.RPCURL)
	setString(&settings.KeySource, flags.KeySource)
	setString(&settings.LogLevel, flags.LogLevel)
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, raw, name string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
