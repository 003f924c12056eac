// Package logging provides structured logging with both human-readable and
// JSON formats.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ConsoleHandler is a slog.Handler that writes compact, still parseable
// lines of the form:
// 2025-11-03T10:15:30.123 INFO  message key1=value1 key2=value2
type ConsoleHandler struct {
	out   io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewConsoleHandler creates a ConsoleHandler writing to w at the given
// minimum level.
func NewConsoleHandler(w io.Writer, level slog.Level) *ConsoleHandler {
	return &ConsoleHandler{out: w, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes one record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.Format("2006-01-02T15:04:05.000"))
	buf.WriteByte(' ')

	// Level padded to 5 chars for alignment
	level := r.Level.String()
	buf.WriteString(level)
	for i := len(level); i < 5; i++ {
		buf.WriteByte(' ')
	}
	buf.WriteByte(' ')

	buf.WriteString(r.Message)

	for _, attr := range h.attrs {
		buf.WriteByte(' ')
		writeAttr(&buf, h.group, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteByte(' ')
		writeAttr(&buf, h.group, a)
		return true
	})

	buf.WriteByte('\n')
	_, err := io.WriteString(h.out, buf.String())
	return err
}

// writeAttr formats one attribute as key=value, quoting string values that
// contain spaces.
func writeAttr(buf *strings.Builder, group string, attr slog.Attr) {
	if group != "" {
		buf.WriteString(group)
		buf.WriteByte('.')
	}
	buf.WriteString(attr.Key)
	buf.WriteByte('=')

	switch attr.Value.Kind() {
	case slog.KindString:
		s := attr.Value.String()
		if strings.ContainsRune(s, ' ') {
			fmt.Fprintf(buf, "%q", s)
		} else {
			buf.WriteString(s)
		}
	case slog.KindTime:
		buf.WriteString(attr.Value.Time().Format(time.RFC3339))
	case slog.KindDuration:
		buf.WriteString(attr.Value.Duration().String())
	default:
		fmt.Fprint(buf, attr.Value.Any())
	}
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{out: h.out, level: h.level, attrs: merged, group: h.group}
}

// WithGroup returns a handler that prefixes attribute keys with the group
// name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &ConsoleHandler{out: h.out, level: h.level, attrs: h.attrs, group: group}
}

// Setup configures the global slog logger based on the provided
// configuration.
func Setup(w io.Writer, logLevel string, useJSON bool) *slog.Logger {
	level := parseLevel(logLevel)

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewConsoleHandler(w, level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
