package app

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/gateway"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/policy"
	"github.com/ggonzalez94/sonic-agent/internal/schema"
	"github.com/ggonzalez94/sonic-agent/internal/server"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/ggonzalez94/sonic-agent/internal/version"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newDoCommand() *cobra.Command {
	var (
		source string
		safe   bool
	)
	cmd := &cobra.Command{
		Use:   "do <action-id> [params...]",
		Short: "Execute an action or strategy (e.g. do wrap-s 3, do execute-wrap-and-deposit 10)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			runs, err := s.openJournal(false)
			if err != nil {
				return err
			}
			req := gateway.Request{
				ActionID:        args[0],
				RawParams:       strings.Join(args[1:], " "),
				Source:          policy.Source(source),
				SafePassThrough: safe,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// A refused request must not touch the signer or the RPC.
			if err := policy.Gate(policy.Request{ActionID: req.ActionID, Params: req.RawParams, Source: req.Source, SafePassThrough: safe}); err != nil {
				resp := e.gateway(nil, runs).Dispatch(ctx, req)
				return s.emitResponse(trimRootPath(cmd.CommandPath()), resp)
			}
			w, release, err := s.runner.dial(ctx, s.settings, e.chain)
			if err != nil {
				return err
			}
			defer release()
			resp := e.gateway(w, runs).Dispatch(ctx, req)
			return s.emitResponse(trimRootPath(cmd.CommandPath()), resp)
		},
	}
	cmd.Flags().StringVar(&source, "source", string(policy.SourceCLI), "Request origin: cli, command, text, api, button, menu or callback")
	cmd.Flags().BoolVar(&safe, "safe-pass-through", false, "Mark an implicit request as already confirmed")
	return cmd
}

func (s *runtimeState) emitResponse(commandPath string, resp gateway.Response) error {
	if resp.OK {
		return s.emitSuccess(commandPath, resp)
	}
	code := resp.ErrorCode
	if code == clierr.CodeSuccess {
		// Aborted strategy runs carry the failure on the step, not a code.
		code = clierr.CodeContractExecution
	}
	return s.emitFailure(commandPath, resp, code, resp.ErrorKind, firstLine(resp.Text))
}

func (s *runtimeState) newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <action-id> [params...]",
		Short: "Show which provider operation an action id binds to, without executing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			resolution := e.gateway(nil, nil).Resolution(gateway.Request{ActionID: args[0], RawParams: strings.Join(args[1:], " ")})
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), resolution)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers available on the configured chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), e.registry.Listing(e.chain))
		},
	})
	return root
}

type operationSchema struct {
	Provider string         `json:"provider"`
	Name     string         `json:"name"`
	Summary  string         `json:"summary"`
	Fields   []schema.Field `json:"fields"`
}

func (s *runtimeState) newOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations [provider]",
		Short: "List operation parameter schemas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = strings.ToLower(strings.TrimSpace(args[0]))
				if _, ok := e.registry.Lookup(filter); !ok {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown provider %q", args[0]))
				}
			}
			items := []operationSchema{}
			for _, p := range e.registry.Supporting(e.chain) {
				name := p.Info().Name
				if filter != "" && name != filter {
					continue
				}
				for _, op := range p.Operations() {
					items = append(items, operationSchema{Provider: name, Name: op.Name, Summary: op.Summary, Fields: op.Schema.Fields})
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	}
}

func (s *runtimeState) newStrategiesCommand() *cobra.Command {
	root := &cobra.Command{Use: "strategies", Short: "Strategy commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in multi-step strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			items := []model.StrategyListing{}
			for _, def := range e.orchestrator.Definitions() {
				items = append(items, def.Listing())
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	})
	return root
}

func (s *runtimeState) newRunsCommand() *cobra.Command {
	root := &cobra.Command{Use: "runs", Short: "Inspect journaled strategy runs"}
	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent strategy runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := s.openJournal(true)
			if err != nil {
				return err
			}
			items, err := runs.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list runs", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeRuns(items))
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status: running, completed or aborted")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to return")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show every step of a strategy run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := s.openJournal(true)
			if err != nil {
				return err
			}
			run, err := runs.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), run)
		},
	}
	root.AddCommand(list, show)
	return root
}

type runSummary struct {
	ID          string   `json:"id"`
	Strategy    string   `json:"strategy"`
	Status      string   `json:"status"`
	StartAmount string   `json:"start_amount"`
	Steps       int      `json:"steps"`
	FailedStep  *int     `json:"failed_step,omitempty"`
	TxHashes    []string `json:"tx_hashes"`
	StartedAt   string   `json:"started_at"`
}

func summarizeRuns(runs []strategy.Run) []runSummary {
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		item := runSummary{
			ID:          run.ID,
			Strategy:    run.Strategy,
			Status:      string(run.Status),
			StartAmount: run.StartAmount,
			Steps:       len(run.Steps),
			TxHashes:    run.TxHashes(),
			StartedAt:   run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if failed, ok := run.Failed(); ok {
			idx := failed.Index
			item.FailedStep = &idx
		}
		out = append(out, item)
	}
	return out
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over HTTP for the chat front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := s.loadEngine()
			if err != nil {
				return err
			}
			runs, err := s.openJournal(false)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			w, release, err := s.runner.dial(ctx, s.settings, e.chain)
			if err != nil {
				return err
			}
			defer release()

			addr := s.settings.ListenAddr
			if strings.TrimSpace(listen) != "" {
				addr = listen
			}
			handler := server.NewHandler(server.Deps{
				Gateway:      e.gateway(w, runs),
				Orchestrator: e.orchestrator,
				Registry:     e.registry,
				Chain:        e.chain,
				Logger:       s.logger,
			})
			return server.Serve(ctx, addr, handler, s.logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, 127.0.0.1:8646)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data)
		},
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
