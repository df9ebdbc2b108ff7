package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// callerHandler injects a short "caller" attribute into every record.
type callerHandler struct {
	slog.Handler
}

// trimPathDepth keeps only the last n segments of the given path.
// Example: trimPathDepth("a/b/c/d.go", 3) => "b/c/d.go"
func trimPathDepth(path string, depth int) string {
	parts := strings.Split(path, string(os.PathSeparator))
	if len(parts) <= depth {
		return path
	}
	return strings.Join(parts[len(parts)-depth:], string(os.PathSeparator))
}

func (h *callerHandler) Handle(ctx context.Context, r slog.Record) error {
	caller := "unknown"
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		if f.File != "" {
			caller = fmt.Sprintf("%s:%d", trimPathDepth(f.File, 3), f.Line)
		}
	}
	r.AddAttrs(slog.String("caller", caller))
	return h.Handler.Handle(ctx, r)
}

func (h *callerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &callerHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *callerHandler) WithGroup(name string) slog.Handler {
	return &callerHandler{Handler: h.Handler.WithGroup(name)}
}

// Options controls how the default logger is built.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR. Empty picks the
	// environment default.
	Level string
	// Production selects JSON output and an INFO default level.
	Production bool
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Build returns a logger for opts without touching the default logger.
func Build(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	level := slog.LevelDebug
	if opts.Production {
		level = slog.LevelInfo
	}
	if opts.Level != "" {
		if parsed, err := ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: false}
	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if opts.Production {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(&callerHandler{Handler: handler})
}

// New initializes the default logger for the application.
// It uses text format and DEBUG level for development, JSON and INFO for production.
func New() *slog.Logger {
	return NewWithLevel("")
}

// NewWithLevel is New with an explicit level override.
func NewWithLevel(level string) *slog.Logger {
	l := Build(Options{
		Level:      level,
		Production: os.Getenv("ENV") == "production",
	})
	slog.SetDefault(l)
	return l
}
