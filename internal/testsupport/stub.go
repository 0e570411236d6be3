package testsupport

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const invocationLogName = "invocations.log"

// StubTool describes the behaviour of a generated ipf_unpack stand-in.
type StubTool struct {
	// ExitCode is returned after the invocation is recorded.
	ExitCode int
	// SleepSeconds keeps the process alive before it exits.
	SleepSeconds int
	// Output is echoed to stdout.
	Output string
}

// WriteStubTool writes an executable named ipf_unpack into dir. Every call
// appends "<path> <mode>" to the returned invocation log.
func WriteStubTool(t testing.TB, dir string, stub StubTool) (string, string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	logPath := filepath.Join(dir, invocationLogName)

	var script strings.Builder
	script.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&script, "printf '%%s %%s\\n' \"$1\" \"$2\" >> '%s'\n", logPath)
	if stub.Output != "" {
		fmt.Fprintf(&script, "echo '%s'\n", stub.Output)
	}
	if stub.SleepSeconds > 0 {
		fmt.Fprintf(&script, "exec sleep %d\n", stub.SleepSeconds)
	}
	fmt.Fprintf(&script, "exit %d\n", stub.ExitCode)

	target := filepath.Join(dir, "ipf_unpack")
	if err := os.WriteFile(target, []byte(script.String()), 0o755); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return target, logPath
}

// ReadInvocations returns the recorded "<path> <mode>" lines in call order.
// A missing log means the stub never ran.
func ReadInvocations(t testing.TB, logPath string) []string {
	t.Helper()

	f, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		t.Fatalf("open invocation log: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read invocation log: %v", err)
	}
	return lines
}
