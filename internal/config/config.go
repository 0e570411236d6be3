package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the run directory layout and the game install location.
type Paths struct {
	RunDir     string   `toml:"run_dir"`
	StagingDir string   `toml:"staging_dir"`
	LedgerDir  string   `toml:"ledger_dir"`
	OutputDir  string   `toml:"output_dir"`
	GameDir    string   `toml:"game_dir"`
	SourceDirs []string `toml:"source_dirs"`
	LogDir     string   `toml:"log_dir"`
}

// Tool contains configuration for the external unpacking tool.
type Tool struct {
	Path        string `toml:"path"`
	KnownBinary string `toml:"known_binary"`
	// StrictExit fails decrypt/extract when the tool exits non-zero.
	// When false any process exit counts as completion.
	StrictExit         bool `toml:"strict_exit"`
	PollIntervalMillis int  `toml:"poll_interval_ms"`
	KillGraceSeconds   int  `toml:"kill_grace_seconds"`
}

// Pipeline contains scheduling knobs.
type Pipeline struct {
	// Workers bounds phase one parallelism. Zero means one per CPU.
	Workers int      `toml:"workers"`
	Ignore  []string `toml:"ignore"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tospatch.
//
// Configuration sections by subsystem:
//   - Paths: run directory (staging, ledger, journal, lock) and game sources
//   - Tool: ipf_unpack location and completion policy
//   - Pipeline: worker count and ignored archive names
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Tool     Tool     `toml:"tool"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tospatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tospatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the run and log directories. Staging and ledger
// directories are created by their owners on first use.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RunDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval is how often a blocked tool wait re-checks cancellation.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tool.PollIntervalMillis) * time.Millisecond
}

// KillGrace is the delay between interrupting a cancelled tool process and killing it.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Tool.KillGraceSeconds) * time.Second
}

// WorkerCount resolves the phase one concurrency limit.
func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.NumCPU()
}

// JournalPath returns the location of the run history database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.RunDir, journalFileName)
}

// LogPath returns the log file written alongside stderr, or "" when file
// logging is disabled.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, logFileName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// resolveUnder expands value, joining relative values onto base.
func resolveUnder(base, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(base, value)
	}
	return expandPath(value)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
