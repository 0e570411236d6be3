// Package staging inspects and cleans the run's staging directory.
//
// The pipeline deletes each staged copy in its Remove stage. Copies survive
// only when a run stops between Copy and Remove. Those whose Extract is
// already recorded are dead weight; the rest are still needed by the next
// run, which skips Copy and works on the staged file directly.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tospatch/internal/logging"
)

// Ledger is the subset of the completion ledger cleanup consults.
type Ledger interface {
	IsDone(name, stage string) (bool, error)
}

// File describes one staged archive copy.
type File struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
	// Finished is set when the archive's extract stage is recorded.
	Finished bool
}

// CleanResult contains the outcome of a cleanup.
type CleanResult struct {
	Removed []File
	Kept    []File
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// List returns the staged copies sorted by name. A missing staging
// directory yields no files.
func List(stagingDir string, ledger Ledger) ([]File, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		// CopyFile writes through dot-prefixed temp files.
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		file := File{
			Name:    entry.Name(),
			Path:    filepath.Join(stagingDir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}
		if ledger != nil {
			done, err := ledger.IsDone(entry.Name(), "extract")
			if err != nil {
				return nil, err
			}
			file.Finished = done
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// CleanFinished removes staged copies whose archive already finished
// extraction. Copies still needed by a resumed run are kept and reported.
func CleanFinished(ctx context.Context, stagingDir string, ledger Ledger, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	files, err := List(stagingDir, ledger)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		if !file.Finished {
			result.Kept = append(result.Kept, file)
			continue
		}
		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: file.Path, Error: err})
			logger.Warn("failed to remove staged archive",
				logging.String("path", file.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, file)
		logger.Info("removed finished staged archive",
			logging.String("path", file.Path),
			logging.Int64("bytes", file.Size),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}
