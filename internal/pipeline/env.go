package pipeline

import (
	"log/slog"
	"time"

	"tospatch/internal/config"
	"tospatch/internal/logging"
	"tospatch/internal/services/ipfunpack"
)

// Ledger is the completion store items consult and update.
type Ledger interface {
	IsDone(name, stage string) (bool, error)
	MarkDone(name, stage string) error
}

// Env is the run-wide state shared read-only by every item.
type Env struct {
	Ledger       Ledger
	Gateway      ipfunpack.Gateway
	StagingDir   string
	PollInterval time.Duration
	// StrictExit fails Decrypt and Extract when the tool exits non-zero.
	StrictExit bool
	Logger     *slog.Logger
}

// NewEnv builds an Env from configuration.
func NewEnv(cfg *config.Config, ledger Ledger, gateway ipfunpack.Gateway, logger *slog.Logger) *Env {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Env{
		Ledger:       ledger,
		Gateway:      gateway,
		StagingDir:   cfg.Paths.StagingDir,
		PollInterval: cfg.PollInterval(),
		StrictExit:   cfg.Tool.StrictExit,
		Logger:       logging.NewComponentLogger(logger, "pipeline"),
	}
}

func (e *Env) pollInterval() time.Duration {
	if e.PollInterval <= 0 {
		return time.Second
	}
	return e.PollInterval
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}
