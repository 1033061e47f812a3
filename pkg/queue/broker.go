// Package queue abstracts the durable stream queue that decouples the
// receiver tier from the worker tier behind a narrow, broker-agnostic
// contract.
package queue

import (
	"context"
	"time"

	"ingestpipe/pkg/domain"
)

// Record is one entry read back from a stream: the broker-assigned id and
// the opaque payload stored at append time.
type Record struct {
	ID      string
	Payload []byte
}

// Broker is the stream abstraction every receiver and worker depends on.
// Implementations must preserve id-order within a single stream and make
// every operation cancellable via ctx.
type Broker interface {
	// Append durably writes payload to stream, trimming the stream to
	// approximately maxLen entries if it grows past that bound. Returns
	// the broker-assigned record id.
	Append(ctx context.Context, stream string, payload []byte, maxLen int64) (string, error)

	// EnsureGroup creates group on stream starting from startID if it does
	// not already exist. Creating an existing group is a no-op success.
	EnsureGroup(ctx context.Context, stream, group, startID string) error

	// ReadGroup delivers up to max records not yet delivered to any group
	// member, blocking up to blockMs for new entries when none are
	// immediately available.
	ReadGroup(ctx context.Context, stream, group, consumer string, max int64, blockMs time.Duration) ([]Record, error)

	// Ack removes ids from the group's pending-entries list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Pending summarises the group's pending-entries list.
	Pending(ctx context.Context, stream, group string) (domain.PendingSummary, error)

	// ClaimStale reassigns up to count pending ids idle for at least
	// idleMs to consumer, returning the reassigned records.
	ClaimStale(ctx context.Context, stream, group, consumer string, idleMs time.Duration, count int64) ([]Record, error)

	// Trim enforces an approximate MAXLEN cap on stream, discarding the
	// oldest entries including unacked ones if necessary. Returns the
	// number of entries removed.
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)

	// Ping verifies the broker is reachable within ctx's deadline.
	Ping(ctx context.Context) error

	// Close releases any underlying connections.
	Close() error
}
