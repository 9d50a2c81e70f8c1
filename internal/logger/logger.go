package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// L is the global logger instance. It discards all output until Init is called.
var L = slog.New(slog.NewTextHandler(io.Discard, nil))

// FileName is the log file created in the log directory.
const FileName = "reshook.log"

// LevelVerbose sits below debug and carries per-record dumps.
const LevelVerbose = slog.LevelDebug - 4

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Dir     string     // Directory for the log file. Default: current directory
	Level   slog.Level // Minimum log level
}

// Init configures logging and returns the file to close on shutdown.
// If opts.Enabled is false, all log output is discarded.
func Init(opts Options) (io.Closer, error) {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return io.NopCloser(nil), nil
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	L = New(f, opts.Level)
	return f, nil
}

// New returns a JSON logger on w that never fails its caller.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(Safe(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel accepts slog level names plus "verbose".
func ParseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "verbose") {
		return LevelVerbose, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// Safe wraps h so that write errors and panics inside it are swallowed.
func Safe(h slog.Handler) slog.Handler {
	if _, ok := h.(safeHandler); ok {
		return h
	}
	return safeHandler{h}
}

type safeHandler struct {
	inner slog.Handler
}

func (h safeHandler) Enabled(ctx context.Context, l slog.Level) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return h.inner.Enabled(ctx, l)
}

func (h safeHandler) Handle(ctx context.Context, r slog.Record) error {
	defer func() { recover() }()
	h.inner.Handle(ctx, r)
	return nil
}

func (h safeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return safeHandler{h.inner.WithAttrs(attrs)}
}

func (h safeHandler) WithGroup(name string) slog.Handler {
	return safeHandler{h.inner.WithGroup(name)}
}
