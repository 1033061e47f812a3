package domain

import (
	"time"

	"github.com/google/uuid"

	"ingestpipe/pkg/apperror"
)

// RecordKind distinguishes the two payload shapes multiplexed over the
// same queue abstraction.
type RecordKind int

const (
	RecordKindUnspecified RecordKind = iota
	RecordKindLog
	RecordKindMetric
)

func (k RecordKind) String() string {
	switch k {
	case RecordKindLog:
		return "log"
	case RecordKindMetric:
		return "metric"
	default:
		return "unspecified"
	}
}

// StreamRecord wraps one validated event or sample on its way through the
// queue broker. ID is broker-assigned and monotone per stream.
type StreamRecord struct {
	ID        string
	Stream    string
	SourceID  string
	Kind      RecordKind
	Payload   []byte
	EnqueuedAt time.Time
	RetryCount int
}

// Validate checks the record is eligible for append; broker-assigned fields
// (ID, EnqueuedAt) are not checked since they are not yet set at append time.
func (r *StreamRecord) Validate() error {
	if r == nil {
		return apperror.ErrNilRecord
	}
	if r.Stream == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "stream is required", "stream")
	}
	if r.SourceID == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "source id is required", "source_id")
	}
	if len(r.Payload) == 0 {
		return apperror.NewWithField(apperror.CodeInvalidInput, "payload is required", "payload")
	}
	return nil
}

// PendingEntry is one row of a consumer group's pending-entries list, as
// returned by the broker's pending(...) operation.
type PendingEntry struct {
	RecordID      string
	Consumer      string
	IdleDuration  time.Duration
	DeliveryCount int64
}

// IsStale reports whether this pending entry has been idle long enough to
// be reassigned by the stale-claim loop.
func (p PendingEntry) IsStale(threshold time.Duration) bool {
	return p.IdleDuration >= threshold
}

// PendingSummary is the broker's pending(...) response shape.
type PendingSummary struct {
	Count          int64
	MinID          string
	MaxID          string
	PerConsumer    map[string]int64
}

// DeadLetterEntry wraps a poison stream record with the sink error that
// caused rejection. Lives in a side stream (stream + ":deadletter").
type DeadLetterEntry struct {
	ID             string
	OriginalStream string
	OriginalID     string
	SourceID       string
	Payload        []byte
	Reason         string
	DeadLetteredAt time.Time
}

// NewDeadLetterEntry builds a dead-letter entry from a rejected record,
// stamping a fresh id.
func NewDeadLetterEntry(rec StreamRecord, reason string, now time.Time) DeadLetterEntry {
	return DeadLetterEntry{
		ID:             uuid.NewString(),
		OriginalStream: rec.Stream,
		OriginalID:     rec.ID,
		SourceID:       rec.SourceID,
		Payload:        rec.Payload,
		Reason:         reason,
		DeadLetteredAt: now,
	}
}

// DeadLetterStreamName returns the side-stream name for a given source stream.
func DeadLetterStreamName(stream string) string {
	return stream + ":deadletter"
}
