package pipeline_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tospatch/internal/config"
	"tospatch/internal/ledger"
	"tospatch/internal/pipeline"
	"tospatch/internal/services/ipfunpack"
	"tospatch/internal/testsupport"
)

// fakeGateway records invocations as "<base name> <mode>".
type fakeGateway struct {
	mu       sync.Mutex
	calls    []string
	exitCode int
	startErr error
	// block holds completions back until release is closed, or forever when
	// release is nil. started receives the path of each blocked call when
	// non-nil.
	block   bool
	started chan string
	release chan struct{}
}

func (f *fakeGateway) Decrypt(ctx context.Context, path string) (<-chan ipfunpack.Completion, error) {
	return f.invoke(ipfunpack.ModeDecrypt, path)
}

func (f *fakeGateway) Extract(ctx context.Context, path string) (<-chan ipfunpack.Completion, error) {
	return f.invoke(ipfunpack.ModeExtract, path)
}

func (f *fakeGateway) invoke(mode ipfunpack.Mode, path string) (<-chan ipfunpack.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(path)+" "+string(mode))
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	ch := make(chan ipfunpack.Completion, 1)
	if f.block {
		if f.started != nil {
			f.started <- path
		}
		if f.release != nil {
			go func() {
				<-f.release
				ch <- ipfunpack.Completion{Mode: mode, Path: path, ExitCode: f.exitCode}
				close(ch)
			}()
		}
		return ch, nil
	}
	ch <- ipfunpack.Completion{Mode: mode, Path: path, ExitCode: f.exitCode}
	close(ch)
	return ch, nil
}

func (f *fakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) CallsFor(mode ipfunpack.Mode) []string {
	var out []string
	for _, call := range f.Calls() {
		if strings.HasSuffix(call, " "+string(mode)) {
			out = append(out, call)
		}
	}
	return out
}

type fixture struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	gw     *fakeGateway
	env    *pipeline.Env
}

func newFixture(t *testing.T, gw *fakeGateway, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	if gw == nil {
		gw = &fakeGateway{}
	}
	cfg := testsupport.NewConfig(t, opts...)
	l, err := ledger.Open(cfg.Paths.LedgerDir)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	return &fixture{
		cfg:    cfg,
		ledger: l,
		gw:     gw,
		env:    pipeline.NewEnv(cfg, l, gw, nil),
	}
}

// archives writes names into the first source directory.
func (f *fixture) archives(t *testing.T, names ...string) []string {
	t.Helper()
	return testsupport.WriteArchives(t, f.cfg.Paths.SourceDirs[0], names...)
}

func (f *fixture) staged(name string) string {
	return filepath.Join(f.cfg.Paths.StagingDir, name)
}

func (f *fixture) isDone(t *testing.T, name, stage string) bool {
	t.Helper()
	done, err := f.ledger.IsDone(name, stage)
	if err != nil {
		t.Fatalf("IsDone(%s, %s): %v", name, stage, err)
	}
	return done
}
