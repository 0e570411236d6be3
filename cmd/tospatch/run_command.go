package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tospatch/internal/config"
	"tospatch/internal/discover"
	"tospatch/internal/journal"
	"tospatch/internal/ledger"
	"tospatch/internal/logging"
	"tospatch/internal/pipeline"
	"tospatch/internal/preflight"
	"tospatch/internal/runlock"
	"tospatch/internal/services"
	"tospatch/internal/services/ipfunpack"
)

type runOptions struct {
	workers       int
	toolPath      string
	strictExit    bool
	ignore        []string
	skipPreflight bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [archive...]",
		Short: "Unpack archives, resuming any earlier interrupted run",
		Long: `Unpack archives through ipf_unpack.

Without arguments every *.ipf file in the configured source directories is
processed. Work already recorded in the run directory is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRunOverrides(cmd, cfg, opts); err != nil {
				return err
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return executeRun(signalCtx, cmd.OutOrStdout(), cfg, logger, args, opts.skipPreflight)
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Override pipeline.workers")
	cmd.Flags().StringVar(&opts.toolPath, "tool", "", "Override tool.path")
	cmd.Flags().BoolVar(&opts.strictExit, "strict-exit", false, "Fail decrypt/extract when the tool exits non-zero")
	cmd.Flags().StringSliceVarP(&opts.ignore, "ignore", "i", nil, "Archive file names to skip (repeatable)")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Start without running readiness checks")
	return cmd
}

func applyRunOverrides(cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	flags := cmd.Flags()
	if flags.Changed("workers") && opts.workers >= 0 {
		cfg.Pipeline.Workers = opts.workers
	}
	if tool := strings.TrimSpace(opts.toolPath); flags.Changed("tool") && tool != "" {
		// The tool runs in the output directory, so relative paths are
		// anchored to the invocation directory first.
		if strings.HasPrefix(tool, "~") || strings.ContainsAny(tool, `/\`) {
			expanded, err := config.ExpandPath(tool)
			if err != nil {
				return fmt.Errorf("resolve --tool: %w", err)
			}
			tool = expanded
		}
		cfg.Tool.Path = tool
	}
	if flags.Changed("strict-exit") {
		cfg.Tool.StrictExit = opts.strictExit
	}
	cfg.Pipeline.Ignore = append(cfg.Pipeline.Ignore, opts.ignore...)
	return nil
}

func executeRun(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, args []string, skipPreflight bool) error {
	lock, err := runlock.Acquire(cfg.Paths.RunDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release run lock failed", logging.Error(err))
		}
	}()

	if !skipPreflight {
		results := preflight.RunAll(ctx, cfg)
		if failed := preflight.Failed(results); len(failed) > 0 {
			fmt.Fprintln(out, renderChecks(results, shouldColorize(out)))
			return services.Wrap(services.ErrConfiguration, "preflight", "", fmt.Sprintf("%d readiness check(s) failed", len(failed)), nil)
		}
	}

	paths, err := resolveArchives(cfg, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "No archives found")
		return nil
	}

	completions, err := ledger.Open(cfg.Paths.LedgerDir)
	if err != nil {
		return err
	}
	gateway := ipfunpack.New(cfg.Tool.Path, cfg.Tool.KnownBinary,
		ipfunpack.WithLogger(logger),
		ipfunpack.WithWorkDir(cfg.Paths.OutputDir),
		ipfunpack.WithKillGrace(cfg.KillGrace()),
	)
	env := pipeline.NewEnv(cfg, completions, gateway, logger)
	orchestrator := pipeline.NewOrchestrator(env,
		pipeline.WithWorkers(cfg.WorkerCount()),
		pipeline.WithLogger(logging.NewComponentLogger(logger, "orchestrator")),
	)

	history := openJournal(cfg, logger)
	if history != nil {
		defer history.Close()
		// Journal writes must land even after cancellation.
		if err := history.BeginRun(context.WithoutCancel(ctx), orchestrator.RunID(), len(paths)); err != nil {
			logger.Warn("journal begin failed", logging.Error(err))
		}
	}

	report, runErr := orchestrator.Run(ctx, pipeline.NewItems(env, paths))

	if history != nil {
		if err := history.FinishRun(context.WithoutCancel(ctx), report); err != nil {
			logger.Warn("journal finish failed", logging.Error(err))
		}
	}

	fmt.Fprintln(out, renderReport(report, shouldColorize(out)))
	if runErr != nil && report.Canceled() {
		fmt.Fprintln(out, "Run cancelled; rerun to resume")
	}
	return runErr
}

func resolveArchives(cfg *config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		expanded := make([]string, 0, len(args))
		for _, arg := range args {
			path, err := config.ExpandPath(arg)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, path)
		}
		return discover.Filter(expanded, cfg.Pipeline.Ignore), nil
	}
	paths, err := discover.Files(cfg.Paths.SourceDirs, cfg.Pipeline.Ignore)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "", "list source directories", err)
	}
	return paths, nil
}

// openJournal returns nil when the journal cannot be opened; history is not
// needed to process archives.
func openJournal(cfg *config.Config, logger *slog.Logger) *journal.Journal {
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		attrs := []logging.Attr{
			logging.String("path", cfg.JournalPath()),
			logging.Error(err),
		}
		if errors.Is(err, journal.ErrSchemaMismatch) {
			attrs = append(attrs, logging.String(logging.FieldErrorHint, "delete the journal file to reset history"))
		}
		logging.WarnWithContext(logger, "run journal unavailable", "journal_unavailable", attrs...)
		return nil
	}
	return j
}
