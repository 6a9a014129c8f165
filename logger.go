package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var levelStyles = map[slog.Level]struct {
	paint func(a ...interface{}) string
	label string
}{
	slog.LevelDebug: {color.New(color.FgHiBlack).SprintFunc(), "DEBUG"},
	slog.LevelInfo:  {color.New(color.FgGreen).SprintFunc(), "INFO "},
	slog.LevelWarn:  {color.New(color.FgYellow).SprintFunc(), "WARN "},
	slog.LevelError: {color.New(color.FgRed).SprintFunc(), "ERROR"},
}

var (
	tagColor  = color.New(color.FgCyan).SprintFunc()
	grayColor = color.New(color.FgHiBlack).SprintFunc()
)

// prettyHandler writes one colored line per record.
type prettyHandler struct {
	out        io.Writer
	level      slog.Leveler
	mu         *sync.Mutex
	timeFormat string
	attrs      []slog.Attr
}

func newPrettyHandler(out io.Writer, level slog.Leveler) *prettyHandler {
	return &prettyHandler{
		out:        out,
		level:      level,
		mu:         &sync.Mutex{},
		timeFormat: "2006-01-02 15:04:05",
	}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	style, ok := levelStyles[r.Level]
	if !ok {
		style = levelStyles[slog.LevelInfo]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s %s",
		tagColor("[SONICTUBE]"),
		r.Time.Format(h.timeFormat),
		grayColor("|"),
		style.paint(style.label),
		grayColor("|"),
		r.Message,
	)

	write := func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", tagColor(a.Key), a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *prettyHandler) WithGroup(string) slog.Handler {
	return h
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(out io.Writer, level string) *slog.Logger {
	return slog.New(newPrettyHandler(out, parseLogLevel(level)))
}
