// Package ledger records which pipeline stages finished for which archive.
//
// Each completed (archive, stage) pair is an empty marker file named
// "<fileName>.<stage>" inside the ledger directory. Presence means done.
// Markers are keyed on the archive's original base name so a marker written
// while the pipeline worked on the staged copy still matches on the next run.
// Markers are never removed by tospatch; pointing a run at a fresh directory
// is the only way to redo work.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tospatch/internal/services"
)

// Ledger is a directory of completion markers. It is safe for concurrent use
// as long as no two goroutines mark the same (name, stage) pair, which the
// pipeline guarantees by giving each archive to one worker.
type Ledger struct {
	dir string
}

// Entry is one completion marker.
type Entry struct {
	Name     string
	Stage    string
	MarkedAt time.Time
}

// Open returns a ledger rooted at dir. The directory is created on the first
// MarkDone.
func Open(dir string) (*Ledger, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "open", "ledger directory required", nil)
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, services.Wrap(services.ErrLedger, "ledger", "open", dir+" is not a directory", nil)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, services.Wrap(services.ErrLedger, "ledger", "open", "stat "+dir, err)
	}
	return &Ledger{dir: dir}, nil
}

// Dir returns the ledger directory.
func (l *Ledger) Dir() string {
	return l.dir
}

// Marker returns the marker file name for a (name, stage) pair.
func Marker(name, stage string) string {
	return filepath.Base(name) + "." + strings.ToLower(stage)
}

// IsDone reports whether stage previously completed for the archive name.
func (l *Ledger) IsDone(name, stage string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.dir, Marker(name, stage)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, services.Wrap(services.ErrLedger, stage, "check", Marker(name, stage), err)
}

// MarkDone records that stage completed for the archive name. Marking an
// already marked pair is a no-op.
func (l *Ledger) MarkDone(name, stage string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return services.Wrap(services.ErrLedger, stage, "mark", "create ledger directory", err)
	}
	marker := filepath.Join(l.dir, Marker(name, stage))
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return services.Wrap(services.ErrLedger, stage, "mark", Marker(name, stage), err)
	}
	if err := f.Close(); err != nil {
		return services.Wrap(services.ErrLedger, stage, "mark", Marker(name, stage), err)
	}
	return nil
}

// Entries lists markers whose suffix is one of stages, sorted by name and
// then by the order stages were given. With no stages every marker with an
// extension is returned, ordered by name and stage.
func (l *Ledger) Entries(stages ...string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrLedger, "ledger", "list", l.dir, err)
	}

	rank := make(map[string]int, len(stages))
	for i, stage := range stages {
		rank[strings.ToLower(stage)] = i
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if len(ext) < 2 {
			continue
		}
		stage := ext[1:]
		if len(rank) > 0 {
			if _, ok := rank[stage]; !ok {
				continue
			}
		}
		entry := Entry{Name: strings.TrimSuffix(de.Name(), ext), Stage: stage}
		if info, err := de.Info(); err == nil {
			entry.MarkedAt = info.ModTime()
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		if len(rank) > 0 {
			return rank[entries[i].Stage] < rank[entries[j].Stage]
		}
		return entries[i].Stage < entries[j].Stage
	})
	return entries, nil
}

// String describes the ledger for logs.
func (l *Ledger) String() string {
	return fmt.Sprintf("ledger(%s)", l.dir)
}
