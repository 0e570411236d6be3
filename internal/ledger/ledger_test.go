package ledger_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tospatch/internal/ledger"
	"tospatch/internal/services"
)

func TestMarkerUsesBaseNameAndLowercaseStage(t *testing.T) {
	if got := ledger.Marker("/game/data/foo.ipf", "Decrypt"); got != "foo.ipf.decrypt" {
		t.Fatalf("unexpected marker %q", got)
	}
}

func TestMarkDoneThenIsDone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "save")
	l, err := ledger.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	done, err := l.IsDone("foo.ipf", "copy")
	if err != nil || done {
		t.Fatalf("expected not done before marking, got done=%v err=%v", done, err)
	}
	if err := l.MarkDone("foo.ipf", "copy"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := l.MarkDone("foo.ipf", "copy"); err != nil {
		t.Fatalf("second MarkDone should be a no-op: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "foo.ipf.copy")); err != nil {
		t.Fatalf("expected marker file: %v", err)
	}

	// A second ledger over the same directory sees earlier markers.
	reopened, err := ledger.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	done, err = reopened.IsDone("temp/foo.ipf", "copy")
	if err != nil || !done {
		t.Fatalf("expected done after reopen, got done=%v err=%v", done, err)
	}
	done, err = reopened.IsDone("foo.ipf", "decrypt")
	if err != nil || done {
		t.Fatalf("other stages must stay undone, got done=%v err=%v", done, err)
	}
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Open(path); !errors.Is(err, services.ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
	if _, err := ledger.Open(" "); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for blank dir, got %v", err)
	}
}

func TestMarkDoneFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := ledger.Open(filepath.Join(blocker, "save"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.MarkDone("foo.ipf", "copy"); !errors.Is(err, services.ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
}

func TestEntriesOrderedByNameAndStage(t *testing.T) {
	l, err := ledger.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]string{
		{"b.ipf", "extract"},
		{"a.ipf", "decrypt"},
		{"b.ipf", "copy"},
		{"a.ipf", "copy"},
	} {
		if err := l.MarkDone(pair[0], pair[1]); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.Entries("copy", "decrypt", "extract")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []string{"a.ipf.copy", "a.ipf.decrypt", "b.ipf.copy", "b.ipf.extract"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i, entry := range entries {
		if got := ledger.Marker(entry.Name, entry.Stage); got != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, got, want[i])
		}
	}

	onlyCopy, err := l.Entries("copy")
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyCopy) != 2 {
		t.Fatalf("expected 2 copy markers, got %+v", onlyCopy)
	}
}

func TestConcurrentMarksForDistinctItems(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "save"))
	if err != nil {
		t.Fatal(err)
	}
	names := []string{"a.ipf", "b.ipf", "c.ipf", "d.ipf", "e.ipf", "f.ipf"}
	var wg sync.WaitGroup
	errs := make(chan error, len(names)*3)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for _, stage := range []string{"copy", "decrypt", "extract"} {
				if err := l.MarkDone(name, stage); err != nil {
					errs <- err
				}
			}
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("MarkDone: %v", err)
	}
	entries, err := l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(names)*3 {
		t.Fatalf("expected %d markers, got %d", len(names)*3, len(entries))
	}
}
