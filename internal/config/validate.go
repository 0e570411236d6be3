package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTool(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		return errors.New("paths.run_dir must be set")
	}
	staging := filepath.Clean(c.Paths.StagingDir)
	ledger := filepath.Clean(c.Paths.LedgerDir)
	if staging == ledger {
		return errors.New("paths.staging_dir and paths.ledger_dir must differ")
	}
	if staging == filepath.Clean(c.Paths.RunDir) {
		return errors.New("paths.staging_dir must not be the run directory itself")
	}
	for _, dir := range c.Paths.SourceDirs {
		if filepath.Clean(dir) == staging {
			return fmt.Errorf("paths.source_dirs entry %q overlaps paths.staging_dir", dir)
		}
	}
	return nil
}

func (c *Config) validateTool() error {
	if strings.TrimSpace(c.Tool.Path) == "" {
		return errors.New("tool.path must be set (or export TOSPATCH_TOOL)")
	}
	if strings.TrimSpace(c.Tool.KnownBinary) == "" {
		return errors.New("tool.known_binary must be set")
	}
	if c.Tool.PollIntervalMillis <= 0 {
		return errors.New("tool.poll_interval_ms must be positive")
	}
	if c.Tool.KillGraceSeconds <= 0 {
		return errors.New("tool.kill_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 0 {
		return errors.New("pipeline.workers must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
