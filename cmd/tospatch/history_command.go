package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tospatch/internal/journal"
	"tospatch/internal/pipeline"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var keep int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or the archives of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if cmd.Flags().Changed("prune") {
				removed, err := j.Prune(cmd.Context(), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d run(s)\n", removed)
				return nil
			}
			if len(args) == 1 {
				return printRunItems(cmd.Context(), out, j, args[0], colorize)
			}
			return printRuns(cmd.Context(), out, j, limit, colorize)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show (0 for all)")
	cmd.Flags().IntVar(&keep, "prune", 0, "Delete all but the newest N runs")
	return cmd
}

func outcomeKind(outcome string) statusKind {
	switch outcome {
	case pipeline.OutcomeCompleted:
		return statusOK
	case pipeline.OutcomeCanceled, journal.OutcomeRunning:
		return statusWarn
	case pipeline.OutcomeFailed:
		return statusError
	default:
		return statusInfo
	}
}

func printRuns(ctx context.Context, out io.Writer, j *journal.Journal, limit int, colorize bool) error {
	runs, err := j.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			paint(run.Outcome, outcomeKind(run.Outcome), colorize),
			formatCount(run.ItemCount),
			formatCount(run.Completed),
			formatCount(run.Excluded),
			formatCount(run.Anomalies),
			formatDuration(run.Phase1 + run.Phase2),
		})
	}
	fmt.Fprintln(out, renderTable(tableSpec{
		headers: []string{"Run", "Started", "Outcome", "Items", "Done", "Excluded", "Unfinished", "Duration"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	}))
	return nil
}

func printRunItems(ctx context.Context, out io.Writer, j *journal.Journal, runID string, colorize bool) error {
	items, err := j.Items(ctx, runID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no archives recorded for run %s", runID)
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		kind := statusOK
		if item.FinalStage != pipeline.StageTerminal.String() {
			kind = statusWarn
		}
		rows = append(rows, []string{
			formatCount(item.Position + 1),
			item.Name,
			paint(stageLabel(item.FinalStage), kind, colorize),
			yesNo(item.Excluded),
		})
	}
	fmt.Fprintln(out, renderTable(tableSpec{
		title:   "Run " + runID,
		headers: []string{"#", "Archive", "Final Stage", "Excluded"},
		rows:    rows,
		aligns:  []columnAlignment{alignRight},
	}))
	return nil
}
