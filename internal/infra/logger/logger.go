// Package logger builds the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"taskrails/internal/domain"
	"taskrails/internal/infra/config"
)

// New creates a configured *slog.Logger.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return NewWithWriter(writer, cfg.Level, resolveFormat(cfg.Format, writer)), closer, nil
}

// NewWithWriter creates a logger writing to w. Records carrying an "error"
// attribute also get an "error_code" taken from the domain error chain.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(codeHandler{h})
}

// codeHandler annotates error attributes with their domain.ErrorCode.
type codeHandler struct{ slog.Handler }

func (h codeHandler) Handle(ctx context.Context, r slog.Record) error {
	var code domain.ErrorCode
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "error" || a.Value.Kind() != slog.KindAny {
			return true
		}
		if err, ok := a.Value.Any().(error); ok {
			code = domain.ErrorCodeOf(err)
			return false
		}
		return true
	})
	if code != "" && code != domain.CodeUnknown {
		r = r.Clone()
		r.AddAttrs(slog.String("error_code", string(code)))
	}
	return h.Handler.Handle(ctx, r)
}

func (h codeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return codeHandler{h.Handler.WithAttrs(attrs)}
}

func (h codeHandler) WithGroup(name string) slog.Handler {
	return codeHandler{h.Handler.WithGroup(name)}
}

// resolveFormat turns "auto" into text on a terminal and json elsewhere.
func resolveFormat(format string, w io.Writer) string {
	if !strings.EqualFold(format, "auto") {
		return format
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return "text"
		}
	}
	return "json"
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// openOutput maps "stdout", "stderr" (the default) or a file path to a
// writer and its closer.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
