package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tospatch/internal/pipeline"
	"tospatch/internal/services"
	"tospatch/internal/testsupport"
)

func TestGateRoutesByName(t *testing.T) {
	cases := []struct {
		name     string
		eligible bool
	}{
		{name: "foo.ipf", eligible: true},
		{name: "ui_2.ipf", eligible: true},
		{name: "xml.lang.ipf", eligible: true},
		{name: "BAD NAME.ipf", eligible: false},
		{name: "Foo.ipf", eligible: false},
		{name: "foo-bar.ipf", eligible: false},
		{name: "bg ipf", eligible: false},
		{name: "日本.ipf", eligible: false},
	}
	f := newFixture(t, nil)
	for _, tc := range cases {
		item := pipeline.NewItem(f.env, filepath.Join("/game/data", tc.name))
		next, err := item.Step(context.Background())
		if err != nil {
			t.Fatalf("%s: Step: %v", tc.name, err)
		}
		want := pipeline.StageTerminal
		if tc.eligible {
			want = pipeline.StageCopy
		}
		if next != want {
			t.Fatalf("%s: gate routed to %s, want %s", tc.name, next, want)
		}
		if item.Excluded() == tc.eligible {
			t.Fatalf("%s: excluded=%v", tc.name, item.Excluded())
		}
	}
}

func TestAdvanceRequiresExecute(t *testing.T) {
	f := newFixture(t, nil)
	item := pipeline.NewItem(f.env, "foo.ipf")
	if _, err := item.Advance(); err == nil {
		t.Fatal("expected advance before execute to fail")
	}
	if item.Stage() != pipeline.StageGate {
		t.Fatalf("stage moved on failed advance: %s", item.Stage())
	}
}

func TestTerminalIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	item := pipeline.NewItem(f.env, "BAD NAME.ipf")
	if _, err := item.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		next, err := item.Step(context.Background())
		if err != nil || next != pipeline.StageTerminal {
			t.Fatalf("terminal step: next=%s err=%v", next, err)
		}
	}
}

func TestCopySkipWhenLedgerDonePointsAtStagedPath(t *testing.T) {
	f := newFixture(t, nil)
	src := f.archives(t, "foo.ipf")[0]
	if err := f.ledger.MarkDone("foo.ipf", "copy"); err != nil {
		t.Fatal(err)
	}

	item := pipeline.NewItem(f.env, src)
	if _, err := item.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := item.Execute(context.Background()); err != nil {
		t.Fatalf("Execute copy: %v", err)
	}
	if item.Path != f.staged("foo.ipf") {
		t.Fatalf("expected staged path, got %q", item.Path)
	}
	if _, err := os.Stat(f.cfg.Paths.StagingDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("skipped copy must not touch staging, stat err=%v", err)
	}
}

func TestCopyStagesArchiveAndLeavesSource(t *testing.T) {
	f := newFixture(t, nil)
	src := f.archives(t, "foo.ipf")[0]
	item := pipeline.NewItem(f.env, src)
	for range 2 {
		if _, err := item.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if item.Stage() != pipeline.StageDecrypt {
		t.Fatalf("expected decrypt, got %s", item.Stage())
	}
	if _, err := os.Stat(f.staged("foo.ipf")); err != nil {
		t.Fatalf("staged copy missing: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must remain: %v", err)
	}
	if !f.isDone(t, "foo.ipf", "copy") {
		t.Fatal("copy marker missing")
	}
}

func TestExecuteIsNoOpWhenStageAlreadyDone(t *testing.T) {
	f := newFixture(t, nil)
	src := f.archives(t, "foo.ipf")[0]
	for _, stage := range []string{"copy", "decrypt"} {
		if err := f.ledger.MarkDone("foo.ipf", stage); err != nil {
			t.Fatal(err)
		}
	}
	item := pipeline.NewItem(f.env, src)
	for range 2 {
		if _, err := item.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if item.Stage() != pipeline.StageDecrypt {
		t.Fatalf("expected decrypt, got %s", item.Stage())
	}
	for range 2 {
		if err := item.Execute(context.Background()); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", calls)
	}
}

func TestRemoveToleratesMissingStagedFile(t *testing.T) {
	f := newFixture(t, nil)
	src := f.archives(t, "foo.ipf")[0]
	item := pipeline.NewItem(f.env, src)
	for range 4 {
		if _, err := item.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if item.Stage() != pipeline.StageRemove {
		t.Fatalf("expected remove, got %s", item.Stage())
	}
	if err := os.Remove(f.staged("foo.ipf")); err != nil {
		t.Fatal(err)
	}
	next, err := item.Step(context.Background())
	if err != nil || next != pipeline.StageTerminal {
		t.Fatalf("remove of missing file: next=%s err=%v", next, err)
	}
}

func TestStrictExitFailsStage(t *testing.T) {
	f := newFixture(t, &fakeGateway{exitCode: 2}, testsupport.WithStrictExit())
	src := f.archives(t, "foo.ipf")[0]
	item := pipeline.NewItem(f.env, src)
	for range 2 {
		if _, err := item.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	_, err := item.Step(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if item.Stage() != pipeline.StageDecrypt {
		t.Fatalf("failed stage must not advance, got %s", item.Stage())
	}
	if f.isDone(t, "foo.ipf", "decrypt") {
		t.Fatal("failed decrypt must not be marked done")
	}
}

func TestLenientExitAcceptsNonZero(t *testing.T) {
	f := newFixture(t, &fakeGateway{exitCode: 2})
	src := f.archives(t, "foo.ipf")[0]
	item := pipeline.NewItem(f.env, src)
	for range 3 {
		if _, err := item.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if !f.isDone(t, "foo.ipf", "decrypt") {
		t.Fatal("decrypt should be recorded despite non-zero exit")
	}
}

func TestParseStage(t *testing.T) {
	for _, stage := range []pipeline.Stage{pipeline.StageGate, pipeline.StageCopy, pipeline.StageDecrypt, pipeline.StageExtract, pipeline.StageRemove, pipeline.StageTerminal} {
		parsed, ok := pipeline.ParseStage(stage.String())
		if !ok || parsed != stage {
			t.Fatalf("ParseStage(%q) = %v, %v", stage.String(), parsed, ok)
		}
	}
	if _, ok := pipeline.ParseStage("bogus"); ok {
		t.Fatal("expected unknown stage to fail")
	}
	if got := pipeline.LedgerStages(); len(got) != 3 || got[0] != "copy" || got[2] != "extract" {
		t.Fatalf("unexpected ledger stages %v", got)
	}
}
