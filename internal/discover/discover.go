// Package discover builds the ordered list of archives a run processes.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is the archive suffix discovery looks for. Matching is case
// insensitive; the pipeline gate decides what is processed.
const Extension = ".ipf"

// Files lists the archives in each directory, sorted by name within a
// directory and concatenated in directory order. Duplicates and archives
// whose base name appears in ignore are dropped. Archives sharing a base name
// across directories are all returned, earlier directories first; the run
// keeps the first and reports the rest. A missing directory is an error.
func Files(dirs []string, ignore []string) ([]string, error) {
	var found []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			if !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			found = append(found, filepath.Join(dir, name))
		}
	}
	return Filter(found, ignore), nil
}

// Filter drops repeated paths (compared after cleaning) and paths whose base
// name is in ignore, keeping the first occurrence order.
func Filter(paths []string, ignore []string) []string {
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		if name = strings.TrimSpace(name); name != "" {
			skip[filepath.Base(name)] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		cleaned := filepath.Clean(path)
		if _, ignored := skip[filepath.Base(cleaned)]; ignored {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}
