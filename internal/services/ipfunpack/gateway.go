package ipfunpack

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tospatch/internal/logging"
)

// DefaultKnownBinary is the name a tool path must contain for the process
// gateway to be selected.
const DefaultKnownBinary = "ipf_unpack"

// Mode is the tool subcommand passed as the second argument.
type Mode string

const (
	ModeDecrypt Mode = "decrypt"
	ModeExtract Mode = "extract"
)

// Completion describes one finished tool invocation.
type Completion struct {
	Mode     Mode
	Path     string
	ExitCode int
	// Err is set when waiting on the process failed for a reason other than
	// a non-zero exit status.
	Err      error
	Duration time.Duration
	// Skipped marks completions from the no-op gateway.
	Skipped bool
}

// Success reports whether the tool exited cleanly.
func (c Completion) Success() bool {
	return c.Err == nil && c.ExitCode == 0
}

// Gateway starts tool invocations. Each call returns a channel that receives
// exactly one Completion and is then closed.
type Gateway interface {
	Decrypt(ctx context.Context, path string) (<-chan Completion, error)
	Extract(ctx context.Context, path string) (<-chan Completion, error)
}

type settings struct {
	logger    *slog.Logger
	workDir   string
	killGrace time.Duration
}

// Option configures a gateway.
type Option func(*settings)

// WithLogger routes gateway logs and tool output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkDir sets the working directory the tool runs in. Extracted output
// lands relative to it.
func WithWorkDir(dir string) Option {
	return func(s *settings) {
		s.workDir = strings.TrimSpace(dir)
	}
}

// WithKillGrace sets how long a cancelled tool process may take to exit after
// the interrupt before it is killed.
func WithKillGrace(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// New returns the process gateway when toolPath contains knownBinary and the
// no-op gateway otherwise. An empty knownBinary means DefaultKnownBinary.
func New(toolPath, knownBinary string, opts ...Option) Gateway {
	s := settings{
		logger:    logging.NewNop(),
		killGrace: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "ipf_unpack")

	if Selects(toolPath, knownBinary) {
		return &Client{binary: strings.TrimSpace(toolPath), settings: s}
	}
	return &Noop{toolPath: toolPath, logger: s.logger}
}

// Selects reports whether New would pick the process gateway for toolPath.
func Selects(toolPath, knownBinary string) bool {
	knownBinary = strings.TrimSpace(knownBinary)
	if knownBinary == "" {
		knownBinary = DefaultKnownBinary
	}
	return strings.Contains(toolPath, knownBinary)
}
