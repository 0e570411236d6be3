package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tospatch/internal/ledger"
	"tospatch/internal/logging"
	"tospatch/internal/runlock"
	"tospatch/internal/services"
	"tospatch/internal/staging"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staged copies of archives that finished extraction",
		Long: "Remove staged copies whose extract stage is recorded in the ledger.\n" +
			"Copies still needed to resume an interrupted run are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			completions, err := ledger.Open(cfg.Paths.LedgerDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if listOnly {
				files, err := staging.List(cfg.Paths.StagingDir, completions)
				if err != nil {
					return services.Wrap(services.ErrIO, "clean", "list", cfg.Paths.StagingDir, err)
				}
				printStagedFiles(out, files)
				return nil
			}

			lock, err := runlock.Acquire(cfg.Paths.RunDir)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			logger = logging.NewComponentLogger(logger, "staging")
			result := staging.CleanFinished(cmd.Context(), cfg.Paths.StagingDir, completions, logger)

			var reclaimed uint64
			for _, file := range result.Removed {
				reclaimed += uint64(file.Size)
			}
			fmt.Fprintf(out, "Removed %s staged archive(s), reclaimed %s; kept %s in flight\n",
				formatCount(len(result.Removed)), humanize.Bytes(reclaimed), formatCount(len(result.Kept)))
			if len(result.Errors) > 0 {
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "failed: %s: %v\n", failure.Path, failure.Error)
				}
				return services.Wrap(services.ErrIO, "clean", "", fmt.Sprintf("%d staged archive(s) could not be removed", len(result.Errors)), nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&listOnly, "list", "l", false, "List staged copies without removing anything")
	return cmd
}

func printStagedFiles(out io.Writer, files []staging.File) {
	if len(files) == 0 {
		fmt.Fprintln(out, "Staging directory is empty")
		return
	}
	rows := make([][]string, 0, len(files))
	var total uint64
	for _, file := range files {
		state := "in flight"
		if file.Finished {
			state = "finished"
		}
		total += uint64(file.Size)
		rows = append(rows, []string{
			file.Name,
			humanize.Bytes(uint64(file.Size)),
			humanize.Time(file.ModTime),
			state,
		})
	}
	fmt.Fprintln(out, renderTable(tableSpec{
		headers: []string{"Archive", "Size", "Staged", "State"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
		footer:  []string{formatCount(len(files)) + " staged", humanize.Bytes(total)},
	}))
}
