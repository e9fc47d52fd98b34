package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

func newSlog(w io.Writer, opts Options) (Logger, error) {
	var level slog.Level
	switch strings.ToLower(opts.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	ho := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if opts.Format == "json" {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	return NewSlogLogger(slog.New(h)), nil
}

// Nop discards everything. Handy in tests.
type Nop struct{}

func (Nop) Debug(_ context.Context, _ string, _ ...any) {}
func (Nop) Info(_ context.Context, _ string, _ ...any)  {}
func (Nop) Warn(_ context.Context, _ string, _ ...any)  {}
func (Nop) Error(_ context.Context, _ string, _ ...any) {}
func (n Nop) With(_ ...any) Logger                      { return n }
