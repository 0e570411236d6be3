package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tospatch/internal/config"
	"tospatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLITestEnv writes a config file mirroring a testsupport config so the
// CLI loads it through the normal path.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("TOSPATCH_TOOL", "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, fmt.Sprintf("%q", v))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	var b strings.Builder
	fmt.Fprintln(&b, "[paths]")
	fmt.Fprintf(&b, "run_dir = %q\n", cfg.Paths.RunDir)
	fmt.Fprintf(&b, "staging_dir = %q\n", cfg.Paths.StagingDir)
	fmt.Fprintf(&b, "ledger_dir = %q\n", cfg.Paths.LedgerDir)
	fmt.Fprintf(&b, "log_dir = %q\n", cfg.Paths.LogDir)
	fmt.Fprintf(&b, "output_dir = %q\n", cfg.Paths.OutputDir)
	fmt.Fprintf(&b, "game_dir = %q\n", cfg.Paths.GameDir)
	fmt.Fprintf(&b, "source_dirs = %s\n", quoteList(cfg.Paths.SourceDirs))
	fmt.Fprintln(&b, "[tool]")
	fmt.Fprintf(&b, "path = %q\n", cfg.Tool.Path)
	fmt.Fprintf(&b, "strict_exit = %t\n", cfg.Tool.StrictExit)
	fmt.Fprintf(&b, "poll_interval_ms = %d\n", cfg.Tool.PollIntervalMillis)
	fmt.Fprintf(&b, "kill_grace_seconds = %d\n", cfg.Tool.KillGraceSeconds)
	fmt.Fprintln(&b, "[pipeline]")
	fmt.Fprintf(&b, "workers = %d\n", cfg.Pipeline.Workers)
	fmt.Fprintf(&b, "ignore = %s\n", quoteList(cfg.Pipeline.Ignore))
	fmt.Fprintln(&b, "[logging]")
	fmt.Fprintln(&b, `level = "warn"`)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}
