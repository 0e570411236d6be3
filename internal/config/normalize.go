package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTool(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		c.Paths.RunDir = defaultRunDir
	}
	if c.Paths.RunDir, err = expandPath(strings.TrimSpace(c.Paths.RunDir)); err != nil {
		return fmt.Errorf("paths.run_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = resolveUnder(c.Paths.RunDir, c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LedgerDir) == "" {
		c.Paths.LedgerDir = defaultLedgerDir
	}
	if c.Paths.LedgerDir, err = resolveUnder(c.Paths.RunDir, c.Paths.LedgerDir); err != nil {
		return fmt.Errorf("paths.ledger_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = resolveUnder(c.Paths.RunDir, c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = c.Paths.RunDir
	} else if c.Paths.OutputDir, err = resolveUnder(c.Paths.RunDir, c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}

	if strings.TrimSpace(c.Paths.GameDir) == "" {
		c.Paths.GameDir = defaultGameDir
	}
	if c.Paths.GameDir, err = expandPath(strings.TrimSpace(c.Paths.GameDir)); err != nil {
		return fmt.Errorf("paths.game_dir: %w", err)
	}
	if len(c.Paths.SourceDirs) == 0 {
		c.Paths.SourceDirs = append([]string(nil), defaultSourceDirs...)
	}
	dirs := make([]string, 0, len(c.Paths.SourceDirs))
	seen := make(map[string]struct{}, len(c.Paths.SourceDirs))
	for _, dir := range c.Paths.SourceDirs {
		resolved, err := resolveUnder(c.Paths.GameDir, dir)
		if err != nil {
			return fmt.Errorf("paths.source_dirs: %w", err)
		}
		if resolved == "" {
			continue
		}
		if _, exists := seen[resolved]; exists {
			continue
		}
		seen[resolved] = struct{}{}
		dirs = append(dirs, resolved)
	}
	c.Paths.SourceDirs = dirs
	return nil
}

func (c *Config) normalizeTool() error {
	c.Tool.Path = strings.TrimSpace(c.Tool.Path)
	if c.Tool.Path == "" {
		if value, ok := os.LookupEnv("TOSPATCH_TOOL"); ok {
			c.Tool.Path = strings.TrimSpace(value)
		}
	}
	if c.Tool.Path == "" {
		c.Tool.Path = defaultToolPath
	}
	// Bare names are resolved through PATH at launch time.
	if strings.HasPrefix(c.Tool.Path, "~") || strings.ContainsAny(c.Tool.Path, `/\`) {
		expanded, err := expandPath(c.Tool.Path)
		if err != nil {
			return fmt.Errorf("tool.path: %w", err)
		}
		c.Tool.Path = expanded
	}
	c.Tool.KnownBinary = strings.TrimSpace(c.Tool.KnownBinary)
	if c.Tool.KnownBinary == "" {
		c.Tool.KnownBinary = defaultKnownBinary
	}
	if c.Tool.PollIntervalMillis <= 0 {
		c.Tool.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Tool.KillGraceSeconds <= 0 {
		c.Tool.KillGraceSeconds = defaultKillGraceSeconds
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers < 0 {
		c.Pipeline.Workers = 0
	}
	if len(c.Pipeline.Ignore) == 0 {
		return
	}
	names := make([]string, 0, len(c.Pipeline.Ignore))
	seen := make(map[string]struct{}, len(c.Pipeline.Ignore))
	for _, name := range c.Pipeline.Ignore {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	c.Pipeline.Ignore = names
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
