// Package logger configures the engine's structured logger. Every Host,
// Adapter, and the Production supervisor logs through the package-level
// Log handle so a single Config controls output shape for the whole
// process.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. Init or InitWithConfig must run before
// any package logs; until then Log defaults to a plain stdout JSON logger
// so early startup errors are never silently dropped.
var Log *slog.Logger

func init() {
	Log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// Config controls level, format and destination of the process logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init configures Log at the given level, writing JSON to stdout.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json", Output: "stdout"})
}

// InitWithConfig configures Log from a full Config.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			cfg.FilePath = "logs/ionbridge.log"
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// Fatal logs msg at error level and terminates the process. Reserved
// for startup failures before a Production exists to report through any
// other surface.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}

// ForMessage returns a logger pre-populated with the fields the
// error-handling design requires on every log line touching a Message:
// host, message_id and correlation_id.
func ForMessage(host, messageID, correlationID string) *slog.Logger {
	return Log.With("host", host, "message_id", messageID, "correlation_id", correlationID)
}

// WithContext returns Log with the given key/values (e.g. a trace id)
// attached; ctx itself is not read.
func WithContext(_ context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}
