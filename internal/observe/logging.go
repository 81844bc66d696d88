package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a level name (debug, info, warn, error) to an
// [slog.Level]. The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("observe: unknown log level %q", s)
	}
}

// SplitHandler routes records below Warn to one handler and Warn and above
// to another. It backs the separate access and error log destinations.
type SplitHandler struct {
	access slog.Handler
	errors slog.Handler
}

var _ slog.Handler = (*SplitHandler)(nil)

// NewSplitHandler returns a handler writing informational records to access
// and warnings and errors to errs.
func NewSplitHandler(access, errs slog.Handler) *SplitHandler {
	return &SplitHandler{access: access, errors: errs}
}

func (h *SplitHandler) pick(level slog.Level) slog.Handler {
	if level >= slog.LevelWarn {
		return h.errors
	}
	return h.access
}

// Enabled implements [slog.Handler].
func (h *SplitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.pick(level).Enabled(ctx, level)
}

// Handle implements [slog.Handler].
func (h *SplitHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.pick(r.Level).Handle(ctx, r)
}

// WithAttrs implements [slog.Handler].
func (h *SplitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SplitHandler{access: h.access.WithAttrs(attrs), errors: h.errors.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (h *SplitHandler) WithGroup(name string) slog.Handler {
	return &SplitHandler{access: h.access.WithGroup(name), errors: h.errors.WithGroup(name)}
}

// LogConfig selects the log level and destinations for [NewLogger].
type LogConfig struct {
	Level     string
	AccessLog string
	ErrorLog  string
}

// NewLogger builds the process logger. Without log files it writes text to
// stderr. When AccessLog or ErrorLog is set, records are split by level and
// the unset side falls back to stderr. The returned closer releases any
// opened files.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.AccessLog == "" && cfg.ErrorLog == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nopCloser{}, nil
	}

	var files multiCloser
	open := func(path string) (io.Writer, error) {
		if path == "" {
			return os.Stderr, nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("observe: open log file: %w", err)
		}
		files = append(files, f)
		return f, nil
	}

	accessW, err := open(cfg.AccessLog)
	if err != nil {
		return nil, nil, err
	}
	errorW, err := open(cfg.ErrorLog)
	if err != nil {
		_ = files.Close()
		return nil, nil, err
	}

	h := NewSplitHandler(slog.NewTextHandler(accessW, opts), slog.NewTextHandler(errorW, opts))
	return slog.New(h), files, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
