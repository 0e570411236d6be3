package ipfunpack

import (
	"context"
	"log/slog"

	"tospatch/internal/logging"
)

// Noop stands in for the tool when the configured path does not name it.
// Every call completes immediately with Skipped set.
type Noop struct {
	toolPath string
	logger   *slog.Logger
}

// Decrypt implements Gateway.
func (n *Noop) Decrypt(ctx context.Context, path string) (<-chan Completion, error) {
	return n.complete(ctx, ModeDecrypt, path), nil
}

// Extract implements Gateway.
func (n *Noop) Extract(ctx context.Context, path string) (<-chan Completion, error) {
	return n.complete(ctx, ModeExtract, path), nil
}

func (n *Noop) complete(ctx context.Context, mode Mode, path string) <-chan Completion {
	logging.WarnWithContext(logging.WithContext(ctx, n.logger), "tool not configured; skipping invocation", "tool_skipped",
		logging.String("mode", string(mode)),
		logging.String("path", path),
		logging.String("tool_path", n.toolPath),
		logging.String(logging.FieldErrorHint, "set tool.path to the ipf_unpack binary"),
		logging.String(logging.FieldImpact, "archive is marked done without being unpacked"),
	)
	done := make(chan Completion, 1)
	done <- Completion{Mode: mode, Path: path, Skipped: true}
	close(done)
	return done
}
