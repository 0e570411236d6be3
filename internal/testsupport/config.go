package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tospatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized-looking config rooted in a fresh temp
// directory: run dir, staging, ledger, logs and a game dir with data and
// patch source directories. The tool path defaults to a name that selects
// the no-op gateway.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runDir := filepath.Join(base, "run")
	gameDir := filepath.Join(base, "game")

	cfgVal := config.Default()
	cfgVal.Paths.RunDir = runDir
	cfgVal.Paths.StagingDir = filepath.Join(runDir, "temp")
	cfgVal.Paths.LedgerDir = filepath.Join(runDir, "save")
	cfgVal.Paths.OutputDir = runDir
	cfgVal.Paths.LogDir = filepath.Join(runDir, "logs")
	cfgVal.Paths.GameDir = gameDir
	cfgVal.Paths.SourceDirs = []string{filepath.Join(gameDir, "data"), filepath.Join(gameDir, "patch")}
	cfgVal.Tool.Path = "none"
	cfgVal.Tool.PollIntervalMillis = 20
	cfgVal.Tool.KillGraceSeconds = 1

	for _, dir := range append([]string{runDir}, cfgVal.Paths.SourceDirs...) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithToolPath overrides the tool path on the test config.
func WithToolPath(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tool.Path = path
	}
}

// WithStrictExit enables the strict exit code policy.
func WithStrictExit() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tool.StrictExit = true
	}
}

// WithWorkers sets the phase one worker limit.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithIgnore sets the ignored archive names.
func WithIgnore(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Ignore = append([]string(nil), names...)
	}
}

// WithStubbedTool writes an ipf_unpack stub under the temp root and points
// the tool path at it.
func WithStubbedTool(stub StubTool) ConfigOption {
	return func(b *configBuilder) {
		path, _ := WriteStubTool(b.t, filepath.Join(b.baseDir, "bin"), stub)
		b.cfg.Tool.Path = path
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RunDir)
}

// InvocationLog returns where a stub written by WithStubbedTool records calls.
func InvocationLog(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "bin", invocationLogName)
}
