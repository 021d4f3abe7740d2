package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// verbosity is the console log level picked on the command line.
type verbosity struct {
	debug   bool
	verbose bool
	quiet   bool
}

// level resolves the console level: LOG_LEVEL sets the base (warn when
// unset, so only the summary table shows on a normal run), then --debug,
// --verbose and --quiet override it in that order.
func (v verbosity) level() (slog.Level, string) {
	lvl := slog.LevelWarn
	unknown := ""
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "":
		// keep default
	case "error":
		lvl = slog.LevelError
	default:
		unknown = os.Getenv("LOG_LEVEL")
	}
	switch {
	case v.debug:
		lvl = slog.LevelDebug
	case v.verbose:
		lvl = slog.LevelInfo
	case v.quiet:
		lvl = slog.LevelError
	}
	return lvl, unknown
}

// newHandler picks the text or JSON handler from LOG_FORMAT.
func newHandler(w io.Writer, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// newLogger builds the console logger writing to w.
func newLogger(w io.Writer, v verbosity) *slog.Logger {
	lvl, unknown := v.level()
	log := slog.New(newHandler(w, lvl))
	if unknown != "" {
		log.Warn("unknown LOG_LEVEL, using warn", slog.String("value", unknown))
	}
	return log
}

// withLogFile tees log into path, appending. The file records info and
// above (debug with --debug) whatever the console shows.
func withLogFile(log *slog.Logger, path string, v verbosity) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	lvl := slog.LevelInfo
	if v.debug {
		lvl = slog.LevelDebug
	}
	return slog.New(teeHandler{log.Handler(), newHandler(f, lvl)}), f.Close, nil
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
