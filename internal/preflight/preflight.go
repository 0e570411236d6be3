package preflight

import (
	"context"

	"tospatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Run directory", cfg.Paths.RunDir))
	if cfg.Paths.OutputDir != cfg.Paths.RunDir {
		results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	}
	results = append(results, CheckCreatableDirectory("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckCreatableDirectory("Ledger directory", cfg.Paths.LedgerDir))

	for _, dir := range cfg.Paths.SourceDirs {
		results = append(results, CheckSourceDirectory("Source "+dir, dir))
	}

	results = append(results, CheckTool(ctx, cfg))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
