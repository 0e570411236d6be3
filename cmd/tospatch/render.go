package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tospatch/internal/pipeline"
	"tospatch/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

// stageLabel turns "decrypt" into "Decrypt" for table headings.
func stageLabel(stage string) string {
	return titleCaser.String(strings.TrimSpace(stage))
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "FAIL"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func paint(value string, kind statusKind, colorize bool) string {
	if !colorize {
		return value
	}
	if color := statusKindColor(kind); color != "" {
		return color + value + ansiReset
	}
	return value
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func renderReport(report pipeline.Report, colorize bool) string {
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		kind := statusOK
		result := "done"
		switch {
		case item.Stage != pipeline.StageTerminal:
			kind, result = statusWarn, "stopped at "+item.Stage.String()
		case item.Excluded:
			kind, result = statusInfo, "excluded"
		}
		rows = append(rows, []string{item.Name, stageLabel(item.Stage.String()), paint(result, kind, colorize)})
	}
	for _, dup := range report.Duplicates {
		rows = append(rows, []string{dup.Origin, "-", paint("skipped, duplicate of "+dup.DuplicateOf, statusWarn, colorize)})
	}

	outcomeKind := statusOK
	switch report.Outcome() {
	case pipeline.OutcomeCanceled:
		outcomeKind = statusWarn
	case pipeline.OutcomeFailed:
		outcomeKind = statusError
	}
	summary := fmt.Sprintf("%d done, %d excluded, %d unfinished", report.Completed, report.Excluded, len(report.Anomalies))
	if len(report.Duplicates) > 0 {
		summary += fmt.Sprintf(", %d duplicate", len(report.Duplicates))
	}

	return renderTable(tableSpec{
		title:   fmt.Sprintf("Run %s: %s", report.RunID, paint(report.Outcome(), outcomeKind, colorize)),
		headers: []string{"Archive", "Stage", "Result"},
		rows:    rows,
		footer:  []string{"", "", summary},
	})
}

func renderChecks(results []preflight.Result, colorize bool) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		kind := statusError
		if r.Passed {
			kind = statusOK
		}
		rows = append(rows, []string{r.Name, paint(statusKindLabel(kind), kind, colorize), r.Detail})
	}
	return renderTable(tableSpec{
		headers: []string{"Check", "Status", "Detail"},
		rows:    rows,
	})
}

func formatCount(n int) string {
	return strconv.Itoa(n)
}
