package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// consoleHiddenKeys are attributes that only make sense in structured sinks.
var consoleHiddenKeys = map[string]bool{
	"intention": true,
	"time":      true,
	"level":     true,
	"msg":       true,
	"component": true,
	"session":   true,
}

// plainHandler is a minimal slog.Handler that prints the message, prefixed by
// the icon of its intention, followed by key=value pairs. No time/level decorations.
type plainHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, leveler: leveler, mu: &sync.Mutex{}}
}

// Enabled implements slog.Handler by checking level
func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

// Handle prints the message and key=value pairs without time/level prefixes
func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var all []slog.Attr
	all = append(all, flatten(h.attrs)...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, flatten([]slog.Attr{a})...)
		return true
	})

	var line strings.Builder
	for _, a := range all {
		if a.Key == "intention" {
			line.WriteString(iconFor(Intention(a.Value.String())))
			line.WriteByte(' ')
			break
		}
	}
	line.WriteString(r.Message)
	for _, a := range all {
		if consoleHiddenKeys[a.Key] {
			continue
		}
		fmt.Fprintf(&line, " %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line.String())
	return err
}

// flatten expands group attributes one level deep.
func flatten(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindGroup {
			out = append(out, a.Value.Group()...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// WithAttrs returns a new handler with additional attributes bound
func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup groups attributes; for plain output we encode as a group attr
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}
