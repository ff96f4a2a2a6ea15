// Package logger provides the structured logger used by every subsystem.
// It mirrors the teacher's internal/logger package: a package-level default
// logger built from an slog.Handler selected by format (json|text), gated by
// an slog.LevelVar so severity can be changed at runtime, with file output
// optionally rotated through lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names used by the filesystem, wider than slog's built-in four so
// that a TRACE level below DEBUG is available for per-block tracing.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelOff     = slog.Level(16)
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Config controls how the default logger is constructed.
type Config struct {
	// Format is "json" or "text".
	Format string
	// Severity is one of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
	Severity string
	// FilePath, if non-empty, routes output through lumberjack instead of
	// stderr.
	FilePath        string
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// Factory builds slog.Handlers with a shared level var, the way the
// teacher's loggerFactory does.
type Factory struct {
	levelVar *slog.LevelVar
}

// NewFactory returns a Factory with the given initial severity.
func NewFactory(severity string) *Factory {
	f := &Factory{levelVar: new(slog.LevelVar)}
	f.levelVar.Set(parseSeverity(severity))
	return f
}

// SetSeverity changes the live severity threshold.
func (f *Factory) SetSeverity(severity string) {
	f.levelVar.Set(parseSeverity(severity))
}

func parseSeverity(s string) slog.Level {
	switch s {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

// replaceSeverity rewrites the "level" attribute emitted by slog into the
// wider severity vocabulary above.
func replaceSeverity(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		lvl := a.Value.Any().(slog.Level)
		name, ok := severityNames[lvl]
		if !ok {
			name = lvl.String()
		}
		a.Key = "severity"
		a.Value = slog.StringValue(name)
	}
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
	}
	return a
}

// CreateHandler builds a JSON or text handler writing to w, gated by f's
// level var.
func (f *Factory) CreateHandler(w io.Writer, jsonFormat bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       f.levelVar,
		ReplaceAttr: replaceSeverity,
	}
	if jsonFormat {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	defaultFactory = NewFactory("INFO")
	defaultLogger  = slog.New(defaultFactory.CreateHandler(os.Stderr, false))
)

// Init (re)configures the package-level default logger according to cfg.
// Subsequent calls to Tracef/Debugf/... use the new configuration.
func Init(cfg Config) {
	defaultFactory.SetSeverity(cfg.Severity)

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxFileSizeMB, 512),
			MaxBackups: cfg.BackupFileCount,
			Compress:   cfg.Compress,
		}
	}

	defaultLogger = slog.New(defaultFactory.CreateHandler(w, cfg.Format == "json"))
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Default returns the package-level logger, e.g. for passing into
// subsystems that accept an *slog.Logger dependency directly.
func Default() *slog.Logger { return defaultLogger }

func Tracef(ctx context.Context, format string, args ...any) {
	defaultLogger.Log(ctx, LevelTrace, sprintf(format, args...))
}

func Debugf(ctx context.Context, format string, args ...any) {
	defaultLogger.Log(ctx, LevelDebug, sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	defaultLogger.Log(ctx, LevelInfo, sprintf(format, args...))
}

func Warnf(ctx context.Context, format string, args ...any) {
	defaultLogger.Log(ctx, LevelWarning, sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	defaultLogger.Log(ctx, LevelError, sprintf(format, args...))
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
