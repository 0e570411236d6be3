package ipfunpack

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"tospatch/internal/logging"
	"tospatch/internal/services"
)

// Client runs the ipf_unpack binary as a child process.
type Client struct {
	binary string
	settings
}

// Decrypt implements Gateway.
func (c *Client) Decrypt(ctx context.Context, path string) (<-chan Completion, error) {
	return c.start(ctx, ModeDecrypt, path)
}

// Extract implements Gateway.
func (c *Client) Extract(ctx context.Context, path string) (<-chan Completion, error) {
	return c.start(ctx, ModeExtract, path)
}

// Binary returns the tool path the client launches.
func (c *Client) Binary() string {
	return c.binary
}

func (c *Client) start(ctx context.Context, mode Mode, path string) (<-chan Completion, error) {
	logger := logging.WithContext(ctx, c.logger)

	cmd := exec.CommandContext(ctx, c.binary, path, string(mode)) //nolint:gosec
	cmd.Dir = c.workDir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.killGrace
	stdout := &lineLogger{logger: logger, stream: "stdout"}
	stderr := &lineLogger{logger: logger, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, string(mode), "start", "launch "+c.binary, err)
	}
	logger.Debug("tool started",
		logging.String("mode", string(mode)),
		logging.String("path", path),
		logging.Int("pid", cmd.Process.Pid),
	)

	done := make(chan Completion, 1)
	go func() {
		defer close(done)
		waitErr := cmd.Wait()
		stdout.Flush()
		stderr.Flush()

		completion := Completion{
			Mode:     mode,
			Path:     path,
			ExitCode: -1,
			Duration: time.Since(started),
		}
		if cmd.ProcessState != nil {
			completion.ExitCode = cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			completion.Err = waitErr
		}
		logger.Debug("tool exited",
			logging.String("mode", string(mode)),
			logging.Int("exit_code", completion.ExitCode),
			logging.Duration("duration", completion.Duration),
		)
		done <- completion
	}()
	return done, nil
}

// lineLogger turns process output into one debug record per line. exec
// copies each stream from its own goroutine, so a lineLogger is never
// written concurrently.
type lineLogger struct {
	logger *slog.Logger
	stream string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Partial line; keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			break
		}
		l.emit(line)
	}
	return len(p), nil
}

// Flush logs any trailing output that did not end in a newline.
func (l *lineLogger) Flush() {
	if l.buf.Len() == 0 {
		return
	}
	l.emit(l.buf.String())
	l.buf.Reset()
}

func (l *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.logger.Debug("tool output", logging.String("stream", l.stream), logging.String("line", line))
}
