package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/sonic-agent/internal/cache"
	"github.com/ggonzalez94/sonic-agent/internal/config"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/journal"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/observability"
	"github.com/ggonzalez94/sonic-agent/internal/out"
	"github.com/ggonzalez94/sonic-agent/internal/policy"
	"github.com/ggonzalez94/sonic-agent/internal/version"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	dial   WalletDialer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   dialEVMWallet,
	}
}

// WithWalletDialer replaces how execution wallets are opened.
func (r *Runner) WithWalletDialer(dial WalletDialer) *Runner {
	r.dial = dial
	return r
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	logger      zerolog.Logger
	root        *cobra.Command
	lastCommand string

	tokens  *cache.Store
	runs    *journal.Journal
	engine  *engine
	closers []func()
}

// reportedError carries the exit code of a failure whose envelope was
// already written.
type reportedError struct {
	code clierr.Code
}

func (e reportedError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.close()
	if err == nil {
		return 0
	}
	var reported reportedError
	if errors.As(err, &reported) {
		return int(reported.code)
	}
	err = normalizeRunError(err)
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Dispatch DeFi actions and multi-step strategies on Sonic",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.logger = observability.NewLogger(s.runner.stderr, settings.LogLevel, true)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			return policy.CheckCommandAllowed(settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	flags.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	flags.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	flags.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	flags.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	flags.StringVar(&s.flags.Timeout, "timeout", "", "HTTP request timeout for the interpreter")
	flags.IntVar(&s.flags.Retries, "retries", -1, "Retries per idempotent HTTP request")
	flags.StringVar(&s.flags.Chain, "chain", "", "Network: sonic or sonic-blaze")
	flags.StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint override")
	flags.StringVar(&s.flags.KeySource, "key-source", "", "Signer key source: auto, env, file or keystore")
	flags.StringVar(&s.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error or off")
	flags.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the token metadata cache")
	flags.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newDoCommand())
	cmd.AddCommand(s.newResolveCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newOperationsCommand())
	cmd.AddCommand(s.newStrategiesCommand())
	cmd.AddCommand(s.newRunsCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadEngine wires the dispatch stack on first use. The token cache is
// opened only when enabled.
func (s *runtimeState) loadEngine() (*engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}
	if s.settings.CacheEnabled && s.tokens == nil {
		store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath, cache.DefaultTokenTTL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.tokens = store
		s.closers = append(s.closers, func() { _ = store.Close() })
	}
	e, err := buildEngine(s.settings, s.tokens, s.logger)
	if err != nil {
		return nil, err
	}
	s.engine = e
	return e, nil
}

// openJournal returns nil when the journal is disabled and required is false.
func (s *runtimeState) openJournal(required bool) (*journal.Journal, error) {
	if s.runs != nil {
		return s.runs, nil
	}
	if !s.settings.JournalEnabled && !required {
		return nil, nil
	}
	chain := strings.TrimSpace(s.settings.Chain)
	j, err := journal.Open(s.settings.JournalPath, s.settings.JournalLockPath, chain)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open run journal", err)
	}
	s.runs = j
	s.closers = append(s.closers, func() { _ = j.Close() })
	return j, nil
}

func (s *runtimeState) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *runtimeState) envelope(commandPath string, data any) model.Envelope {
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Chain:     s.settings.Chain,
		},
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	return out.Render(s.runner.stdout, s.envelope(commandPath, data), s.settings)
}

// emitFailure writes a failed result that still carries data, such as a
// partially executed strategy, and reports code as the exit status.
func (s *runtimeState) emitFailure(commandPath string, data any, code clierr.Code, kind, message string) error {
	env := s.envelope(commandPath, data)
	env.Success = false
	env.Error = &model.ErrorBody{Code: int(code), Type: kind, Message: message}
	if err := out.Render(s.runner.stdout, env, s.settings); err != nil {
		return err
	}
	if code == clierr.CodeSuccess {
		code = clierr.CodeInternal
	}
	return reportedError{code: code}
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	typ := clierr.Kind(err)
	if cErr, ok := clierr.As(err); ok && cErr.Code == clierr.CodeBlocked {
		typ = "command_blocked"
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := s.envelope(commandPath, []any{})
	env.Success = false
	env.Error = &model.ErrorBody{Code: clierr.ExitCode(err), Type: typ, Message: message}
	_ = out.Render(s.runner.stderr, env, settings)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	for _, p := range []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
