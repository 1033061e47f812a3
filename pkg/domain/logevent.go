package domain

import (
	"strings"
	"time"

	"ingestpipe/pkg/apperror"
)

// LogLevel is the normalised severity of a log event.
type LogLevel int

const (
	LevelUnspecified LogLevel = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the upper-case level name used on the wire and downstream.
func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
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
		return "UNSPECIFIED"
	}
}

// ParseLogLevel maps a wire-format level string (case-insensitive) onto a LogLevel.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LevelTrace, true
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
		return LevelUnspecified, false
	}
}

// SchemaVersion is the current log-event wire schema tag.
const SchemaVersion = "v1"

// LogEvent is one normalised log record, as accepted by C4 and C6 and
// written by C8 to the search-index sink.
type LogEvent struct {
	Timestamp     time.Time
	Level         LogLevel
	Message       string
	Service       string
	Host          string
	Labels        map[string]string
	Tags          []string
	TraceID       string
	SpanID        string
	TransactionID string
	SchemaVersion string
}

// Validate enforces the required-field invariant from the log event data
// model: timestamp, schema version, message, and level must be present.
func (e *LogEvent) Validate() error {
	if e == nil {
		return apperror.ErrNilRecord
	}
	if e.Timestamp.IsZero() {
		return apperror.NewWithField(apperror.CodeInvalidInput, "timestamp is required", "timestamp")
	}
	if e.Message == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "message is required", "message")
	}
	if e.Level == LevelUnspecified {
		return apperror.NewWithField(apperror.CodeInvalidInput, "level is required", "level")
	}
	if e.SchemaVersion == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "schema_version is required", "schema_version")
	}
	return nil
}

// Normalize fills in defaults that the wire format allows to be omitted
// (schema version, UTC timestamp) before the event is enqueued.
func (e *LogEvent) Normalize() {
	if e.SchemaVersion == "" {
		e.SchemaVersion = SchemaVersion
	}
	e.Timestamp = e.Timestamp.UTC()
}
