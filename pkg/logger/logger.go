package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger

// Config controls output destination, level, and rotation for the
// process-wide structured logger shared by every receiver and worker.
type Config struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init sets up a minimal JSON-to-stdout logger, used by short-lived
// commands (migrations, one-shot tooling) that don't read full config.
func Init(level string) {
	InitWithConfig(Config{
		Level:  level,
		Format: "json",
		Output: "stdout",
	})
}

// InitWithConfig builds the process-wide logger from a loaded Config.
// AddSource is only enabled at debug level since per-record logging in
// the receivers and workers runs on the hot path.
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
			cfg.FilePath = "logs/app.log"
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			writer = os.Stdout
		} else {
			// lumberjack handles rotation so a long-running receiver or
			// worker never needs to be restarted to reclaim disk.
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

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithService scopes a logger to a service name, used once at startup
// by each cmd/main.go before any receiver/worker loop begins.
func WithService(service string) *slog.Logger {
	return Log.With("service", service)
}

// WithSource scopes a logger to the catalogue source a request or
// datagram resolved to, so every downstream log line carries it.
func WithSource(sourceID string) *slog.Logger {
	return Log.With("source_id", sourceID)
}

// WithStream scopes a logger to a queue stream and consumer group, the
// pair every worker log line needs to be attributable.
func WithStream(stream, consumer string) *slog.Logger {
	return Log.With("stream", stream, "consumer", consumer)
}

// Debug logs at debug level on the process-wide logger.
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level on the process-wide logger.
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level on the process-wide logger.
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level on the process-wide logger.
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Fatal logs at error level then terminates the process, used for
// startup failures that leave a receiver or worker unable to run.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
