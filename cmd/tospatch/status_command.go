package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"tospatch/internal/config"
	"tospatch/internal/discover"
	"tospatch/internal/journal"
	"tospatch/internal/ledger"
	"tospatch/internal/pipeline"
)

type archiveProgress struct {
	name     string
	done     map[string]bool
	excluded bool
}

func (p archiveProgress) state() (string, statusKind) {
	if p.excluded {
		return "excluded", statusInfo
	}
	count := 0
	for _, stage := range pipeline.LedgerStages() {
		if p.done[stage] {
			count++
		}
	}
	switch count {
	case 0:
		return "pending", statusInfo
	case len(pipeline.LedgerStages()):
		return "done", statusOK
	default:
		return "partial", statusWarn
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-archive progress recorded in the run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			progress, discoverErr := collectProgress(cfg)
			if progress == nil && discoverErr != nil {
				return discoverErr
			}
			if discoverErr != nil {
				fmt.Fprintf(out, "warn: %v; showing ledger entries only\n", discoverErr)
			}
			printLastRun(cmd.Context(), out, cfg)
			fmt.Fprintln(out, renderProgress(progress, pendingOnly, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Hide archives that are fully processed or excluded")
	return cmd
}

// collectProgress merges discovered archives with ledger markers. Discovery
// failures are returned alongside whatever the ledger alone could provide.
func collectProgress(cfg *config.Config) ([]archiveProgress, error) {
	completions, err := ledger.Open(cfg.Paths.LedgerDir)
	if err != nil {
		return nil, err
	}
	entries, err := completions.Entries(pipeline.LedgerStages()...)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*archiveProgress)
	get := func(name string) *archiveProgress {
		if p, ok := byName[name]; ok {
			return p
		}
		p := &archiveProgress{name: name, done: make(map[string]bool), excluded: !pipeline.EligibleName(name)}
		byName[name] = p
		return p
	}
	for _, entry := range entries {
		get(entry.Name).done[entry.Stage] = true
	}

	paths, discoverErr := discover.Files(cfg.Paths.SourceDirs, cfg.Pipeline.Ignore)
	for _, path := range paths {
		get(filepath.Base(path))
	}

	progress := make([]archiveProgress, 0, len(byName))
	for _, p := range byName {
		progress = append(progress, *p)
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].name < progress[j].name })
	return progress, discoverErr
}

func renderProgress(progress []archiveProgress, pendingOnly, colorize bool) string {
	stages := pipeline.LedgerStages()
	headers := []string{"Archive"}
	for _, stage := range stages {
		headers = append(headers, stageLabel(stage))
	}
	headers = append(headers, "State")

	counts := map[string]int{}
	var rows [][]string
	for _, p := range progress {
		state, kind := p.state()
		counts[state]++
		if pendingOnly && (state == "done" || state == "excluded") {
			continue
		}
		row := []string{p.name}
		for _, stage := range stages {
			row = append(row, yesNo(p.done[stage]))
		}
		rows = append(rows, append(row, paint(state, kind, colorize)))
	}

	summary := fmt.Sprintf("%s done, %s partial, %s pending, %s excluded",
		formatCount(counts["done"]), formatCount(counts["partial"]), formatCount(counts["pending"]), formatCount(counts["excluded"]))
	footer := make([]string, len(headers))
	footer[len(footer)-1] = summary
	return renderTable(tableSpec{headers: headers, rows: rows, footer: footer})
}

func printLastRun(ctx context.Context, out io.Writer, cfg *config.Config) {
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return
	}
	defer j.Close()
	runs, err := j.Runs(ctx, 1)
	if err != nil || len(runs) == 0 {
		return
	}
	last := runs[0]
	fmt.Fprintf(out, "Last run: %s (%s, started %s)\n", last.ID, last.Outcome, last.StartedAt.Local().Format("2006-01-02 15:04:05"))
}
