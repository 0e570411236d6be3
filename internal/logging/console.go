package logging

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes "<ts> <LEVEL> <component>: <msg> key=value ..." lines.
// The component becomes the prefix, and impact and error_hint always trail
// the other fields so warnings end with what to do about them.
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Level
	component string
	// fields holds attributes bound with With, already rendered.
	fields string
	prefix string
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, out: w, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var line strings.Builder
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteByte(' ')
	line.WriteString(record.Level.String())
	line.WriteByte(' ')

	component := h.component
	var trailing []slog.Attr
	var body strings.Builder
	body.WriteString(h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		switch attr.Key {
		case FieldComponent:
			component = attr.Value.String()
		case FieldImpact, FieldErrorHint:
			trailing = append(trailing, attr)
		default:
			h.writeAttr(&body, attr)
		}
		return true
	})
	for _, attr := range trailing {
		h.writeAttr(&body, attr)
	}

	if component != "" {
		line.WriteString(component)
		line.WriteString(": ")
	}
	line.WriteString(record.Message)
	line.WriteString(body.String())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var fields strings.Builder
	fields.WriteString(h.fields)
	for _, attr := range attrs {
		if attr.Key == FieldComponent && h.prefix == "" {
			next.component = attr.Value.String()
			continue
		}
		h.writeAttr(&fields, attr)
	}
	next.fields = fields.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) writeAttr(b *strings.Builder, attr slog.Attr) {
	value := attr.Value.Resolve()
	if attr.Key == "" {
		return
	}
	if value.Kind() == slog.KindGroup {
		group := *h
		group.prefix = h.prefix + attr.Key + "."
		for _, member := range value.Group() {
			group.writeAttr(b, member)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(h.prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
