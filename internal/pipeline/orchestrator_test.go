package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"tospatch/internal/pipeline"
	"tospatch/internal/services"
	"tospatch/internal/services/ipfunpack"
	"tospatch/internal/testsupport"
)

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	paths := f.archives(t, "foo.ipf", "BAD NAME.ipf")

	orch := pipeline.NewOrchestrator(f.env, pipeline.WithRunID("run-e2e"))
	report, err := orch.Run(context.Background(), pipeline.NewItems(f.env, paths))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID != "run-e2e" || report.Outcome() != pipeline.OutcomeCompleted {
		t.Fatalf("unexpected report header: %+v", report)
	}
	if report.Completed != 1 || report.Excluded != 1 || len(report.Anomalies) != 0 {
		t.Fatalf("unexpected counts: completed=%d excluded=%d anomalies=%v", report.Completed, report.Excluded, report.Anomalies)
	}
	for _, result := range report.Items {
		if result.Stage != pipeline.StageTerminal {
			t.Fatalf("%s ended in %s", result.Name, result.Stage)
		}
	}

	want := []string{"foo.ipf decrypt", "foo.ipf extract"}
	if got := f.gw.Calls(); !slices.Equal(got, want) {
		t.Fatalf("tool calls = %v, want %v", got, want)
	}
	for _, stage := range []string{"copy", "decrypt", "extract"} {
		if !f.isDone(t, "foo.ipf", stage) {
			t.Fatalf("missing %s marker for foo.ipf", stage)
		}
		if f.isDone(t, "BAD NAME.ipf", stage) {
			t.Fatalf("excluded archive has %s marker", stage)
		}
	}
	if _, err := os.Stat(f.staged("foo.ipf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staged copy should be deleted, stat err=%v", err)
	}
	if _, err := os.Stat(f.staged("BAD NAME.ipf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("excluded archive must never be staged, stat err=%v", err)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("source archive %s removed: %v", path, err)
		}
	}
}

func TestRunResumesAfterDecrypt(t *testing.T) {
	f := newFixture(t, nil)
	paths := f.archives(t, "foo.ipf")
	for _, stage := range []string{"copy", "decrypt"} {
		if err := f.ledger.MarkDone("foo.ipf", stage); err != nil {
			t.Fatal(err)
		}
	}
	// The crashed run left its staged copy behind.
	if err := os.MkdirAll(f.cfg.Paths.StagingDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.staged("foo.ipf"), []byte("decrypted"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected completion, got %+v", report)
	}
	if got := f.gw.Calls(); !slices.Equal(got, []string{"foo.ipf extract"}) {
		t.Fatalf("expected only extract, got %v", got)
	}
	if !f.isDone(t, "foo.ipf", "extract") {
		t.Fatal("extract marker missing")
	}
	if _, err := os.Stat(f.staged("foo.ipf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staged copy should be removed after extract, stat err=%v", err)
	}
}

func TestRunTwiceDoesNoWorkSecondTime(t *testing.T) {
	f := newFixture(t, nil)
	paths := f.archives(t, "a.ipf", "b.ipf")
	if _, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths)); err != nil {
		t.Fatal(err)
	}
	first := len(f.gw.Calls())

	report, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths))
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 2 {
		t.Fatalf("expected both archives complete, got %+v", report)
	}
	if calls := f.gw.Calls(); len(calls) != first {
		t.Fatalf("second run invoked the tool again: %v", calls[first:])
	}
}

func TestPhaseTwoOrderIsDeterministic(t *testing.T) {
	var orders [][]string
	for range 3 {
		f := newFixture(t, nil)
		paths := f.archives(t, "c.ipf", "a.ipf", "b.ipf")
		orch := pipeline.NewOrchestrator(f.env, pipeline.WithWorkers(3))
		if _, err := orch.Run(context.Background(), pipeline.NewItems(f.env, paths)); err != nil {
			t.Fatal(err)
		}
		orders = append(orders, f.gw.CallsFor(ipfunpack.ModeExtract))
	}
	want := []string{"a.ipf extract", "b.ipf extract", "c.ipf extract"}
	for i, order := range orders {
		if !slices.Equal(order, want) {
			t.Fatalf("run %d extract order = %v, want %v", i, order, want)
		}
	}
}

func TestCancelInterruptsBlockedWait(t *testing.T) {
	gw := &fakeGateway{block: true, started: make(chan string, 4)}
	f := newFixture(t, gw)
	f.env.PollInterval = 50 * time.Millisecond
	paths := f.archives(t, "foo.ipf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		report pipeline.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := pipeline.NewOrchestrator(f.env).Run(ctx, pipeline.NewItems(f.env, paths))
		done <- result{report, err}
	}()

	select {
	case <-gw.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool was never started")
	}
	cancelled := time.Now()
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	if elapsed := time.Since(cancelled); elapsed > time.Second {
		t.Fatalf("cancellation took %s", elapsed)
	}
	if !errors.Is(res.err, services.ErrCanceled) || !res.report.Canceled() {
		t.Fatalf("expected cancellation outcome, got err=%v", res.err)
	}
	if res.report.Outcome() != pipeline.OutcomeCanceled {
		t.Fatalf("unexpected outcome %q", res.report.Outcome())
	}
	if len(res.report.Anomalies) != 1 || res.report.Anomalies[0].Stage != pipeline.StageDecrypt {
		t.Fatalf("expected foo.ipf stuck in decrypt, got %+v", res.report.Anomalies)
	}
	if f.isDone(t, "foo.ipf", "decrypt") {
		t.Fatal("cancelled decrypt must not be marked done")
	}
}

func TestRunWithCancelledContextDoesNothing(t *testing.T) {
	f := newFixture(t, nil)
	paths := f.archives(t, "a.ipf", "b.ipf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := pipeline.NewOrchestrator(f.env).Run(ctx, pipeline.NewItems(f.env, paths))
	if !services.IsCanceled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(report.Anomalies) != 2 {
		t.Fatalf("expected every item reported, got %+v", report.Anomalies)
	}
	for _, anomaly := range report.Anomalies {
		if anomaly.Stage != pipeline.StageGate {
			t.Fatalf("%s advanced to %s after cancellation", anomaly.Name, anomaly.Stage)
		}
	}
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", calls)
	}
}

func TestStartFailureAbortsRun(t *testing.T) {
	gw := &fakeGateway{startErr: services.Wrap(services.ErrExternalTool, "decrypt", "start", "launch", errors.New("exec format error"))}
	f := newFixture(t, gw)
	paths := f.archives(t, "foo.ipf")

	report, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if report.Outcome() != pipeline.OutcomeFailed || report.Canceled() {
		t.Fatalf("expected failed outcome, got %q", report.Outcome())
	}
	if len(report.Anomalies) != 1 || report.Anomalies[0].Stage != pipeline.StageDecrypt {
		t.Fatalf("unexpected anomalies %+v", report.Anomalies)
	}
	if report.Phase2 != 0 {
		t.Fatal("phase two must not run after a phase one failure")
	}
}

type brokenLedger struct{ err error }

func (b brokenLedger) IsDone(string, string) (bool, error) { return false, nil }

func (b brokenLedger) MarkDone(string, string) error { return b.err }

func TestLedgerFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Ledger = brokenLedger{err: services.Wrap(services.ErrLedger, "copy", "mark", "disk full", nil)}
	paths := f.archives(t, "foo.ipf")

	report, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths))
	if !errors.Is(err, services.ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
	if len(report.Anomalies) != 1 || report.Anomalies[0].Stage != pipeline.StageCopy {
		t.Fatalf("expected item stuck at copy, got %+v", report.Anomalies)
	}
	if len(f.gw.Calls()) != 0 {
		t.Fatal("tool must not run after a ledger failure")
	}
}

func TestNoopGatewayCompletesRun(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Gateway = ipfunpack.New("none", "")
	paths := f.archives(t, "foo.ipf")

	report, err := pipeline.NewOrchestrator(f.env).Run(context.Background(), pipeline.NewItems(f.env, paths))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected completion with no-op tool, got %+v", report)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.LedgerDir, "foo.ipf.extract")); err != nil {
		t.Fatalf("extract marker missing: %v", err)
	}
}

func TestPhaseOneRunsWithinWorkerLimit(t *testing.T) {
	gw := &fakeGateway{block: true, started: make(chan string, 8), release: make(chan struct{})}
	f := newFixture(t, gw)
	paths := f.archives(t, "a.ipf", "b.ipf", "c.ipf")

	done := make(chan error, 1)
	go func() {
		_, err := pipeline.NewOrchestrator(f.env, pipeline.WithWorkers(2)).Run(context.Background(), pipeline.NewItems(f.env, paths))
		done <- err
	}()

	// Two decrypts in flight at once shows phase one runs in parallel.
	for i := range 2 {
		select {
		case <-gw.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 decrypts started concurrently", i)
		}
	}
	select {
	case path := <-gw.started:
		t.Fatalf("decrypt of %s started beyond the worker limit", path)
	case <-time.After(200 * time.Millisecond):
	}

	close(gw.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after completions were released")
	}
	if decrypts := gw.CallsFor(ipfunpack.ModeDecrypt); len(decrypts) != 3 {
		t.Fatalf("expected three decrypts, got %v", decrypts)
	}
}

func TestRunSkipsArchivesSharingAName(t *testing.T) {
	f := newFixture(t, nil)
	first := filepath.Join(f.cfg.Paths.SourceDirs[0], "foo.ipf")
	second := filepath.Join(f.cfg.Paths.SourceDirs[1], "foo.ipf")
	testsupport.WriteArchive(t, first, 64)
	testsupport.WriteArchive(t, second, 128)

	orch := pipeline.NewOrchestrator(f.env, pipeline.WithWorkers(2))
	report, err := orch.Run(context.Background(), pipeline.NewItems(f.env, []string{first, second}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Completed != 1 || len(report.Anomalies) != 0 {
		t.Fatalf("expected one completed archive, got completed=%d anomalies=%v", report.Completed, report.Anomalies)
	}
	if len(report.Items) != 1 || report.Items[0].Origin != first {
		t.Fatalf("expected only the first archive processed, got %+v", report.Items)
	}
	if len(report.Duplicates) != 1 {
		t.Fatalf("expected one duplicate, got %+v", report.Duplicates)
	}
	dup := report.Duplicates[0]
	if dup.Origin != second || dup.DuplicateOf != first || dup.Stage != pipeline.StageGate {
		t.Fatalf("unexpected duplicate entry %+v", dup)
	}
	want := []string{"foo.ipf decrypt", "foo.ipf extract"}
	if got := f.gw.Calls(); !slices.Equal(got, want) {
		t.Fatalf("tool calls = %v, want %v", got, want)
	}
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("skipped archive must be left alone: %v", err)
	}
}
