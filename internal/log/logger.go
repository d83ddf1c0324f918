package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var (
	currentLevel atomic.Uint32
	levelVar     = new(slog.LevelVar)

	// current holds the handler every component logger forwards to, so
	// loggers created at package init pick up the format chosen by Init.
	current atomic.Pointer[slog.Handler]

	std = slog.New(forwardingHandler{})

	nowFunc  = time.Now
	exitFunc = os.Exit
)

func init() {
	setHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	SetLevel(LevelInfo)
}

func setHandler(h slog.Handler) {
	current.Store(&h)
}

// Init configures output format ("text" or "json") and destination.
// A nil writer means stderr.
func Init(format string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.EqualFold(format, "json") {
		setHandler(slog.NewJSONHandler(output, opts))
		return
	}
	setHandler(slog.NewTextHandler(output, opts))
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
	levelVar.Set(level.slogLevel())
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// L returns a structured logger tagged with the given component name.
func L(component string) *slog.Logger {
	return std.With("component", component)
}

// forwardingHandler resolves the configured handler on every call.
type forwardingHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h forwardingHandler) resolve() slog.Handler {
	base := *current.Load()
	for _, g := range h.groups {
		base = base.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		base = base.WithAttrs(h.attrs)
	}
	return base
}

func (h forwardingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h forwardingHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h forwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return forwardingHandler{attrs: merged, groups: h.groups}
}

func (h forwardingHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return forwardingHandler{attrs: h.attrs, groups: groups}
}

// --- Public Logging Functions ---

func logf(level LogLevel, format string, v ...any) {
	std.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, v...))
}

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) { logf(LevelInfo, format, v...) }

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) { logf(LevelWarn, format, v...) }

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	r := slog.NewRecord(nowFunc(), LevelFatal.slogLevel(), msg, 0)
	_ = (*current.Load()).Handle(context.Background(), r)
	exitFunc(1)
}
