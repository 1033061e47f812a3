// Package worker implements the log (C8) and metric (C9) dispatch workers:
// claim a batch from a queue consumer group, hand it to a sink, and
// ack/dead-letter/leave-pending each record depending on the outcome.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/pkg/sinks"
)

// Decoder unmarshals a queue record's opaque payload into a typed domain
// value, so the worker stays generic over log vs metric sinks. The record's
// broker-assigned ID doubles as the sink-call map key.
type Decoder[T any] func(payload []byte) (value T, err error)

// Sink is the subset of pkg/sinks a worker needs, parameterised over the
// record type so both LogSink and MetricSink satisfy it.
type Sink[T any] interface {
	Send(ctx context.Context, records map[string]T) ([]sinks.Result, error)
}

// Config controls batching, consumer identity, and stale-claim reclaim.
type Config struct {
	Stream          string
	Group           string
	Consumer        string
	BatchSize       int64
	BatchMaxAge     time.Duration
	ReadBlock       time.Duration
	ReclaimIdle     time.Duration
	ReclaimInterval time.Duration
	Concurrency     int
}

// Worker polls a stream's consumer group, decodes each record, dispatches
// accumulated batches to a sink, and resolves every record's outcome.
type Worker[T any] struct {
	name        string
	cfg         Config
	broker      queue.Broker
	sink        Sink[T]
	decode      Decoder[T]
	auditLogger audit.Logger
	log         *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Worker. name identifies the worker in logs/metrics ("log" or
// "metric").
func New[T any](name string, cfg Config, broker queue.Broker, sink Sink[T], decode Decoder[T], auditLogger audit.Logger) *Worker[T] {
	return &Worker[T]{
		name:        name,
		cfg:         cfg,
		broker:      broker,
		sink:        sink,
		decode:      decode,
		auditLogger: auditLogger,
		log:         logger.WithStream(cfg.Stream, cfg.Consumer),
		stopCh:      make(chan struct{}),
	}
}

// Name implements supervisor.Component.
func (w *Worker[T]) Name() string { return w.name + "-worker" }

// Start ensures the consumer group exists, then launches the poll and
// reclaim loops in the background.
func (w *Worker[T]) Start(ctx context.Context) error {
	if err := w.broker.EnsureGroup(ctx, w.cfg.Stream, w.cfg.Group, "0"); err != nil {
		return err
	}

	concurrency := w.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.pollLoop()
	}

	w.wg.Add(1)
	go w.reclaimLoop()

	return nil
}

// Stop signals both loops to exit and waits for them to drain.
func (w *Worker[T]) Stop(ctx context.Context) error {
	close(w.stopCh)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollLoop accumulates records across successive ReadGroup calls into a
// pending batch, flushing it to processBatch as soon as the batch reaches
// BatchSize or its oldest record has waited BatchMaxAge, whichever comes
// first. A zero BatchMaxAge flushes whatever is pending after every read,
// matching a pure size-triggered policy.
func (w *Worker[T]) pollLoop() {
	defer w.wg.Done()
	ctx := context.Background()

	var pending []queue.Record
	var oldest time.Time

	for {
		select {
		case <-w.stopCh:
			if len(pending) > 0 {
				w.processBatch(ctx, pending)
			}
			return
		default:
		}

		want := w.cfg.BatchSize - int64(len(pending))
		if want <= 0 {
			want = w.cfg.BatchSize
		}
		records, err := w.broker.ReadGroup(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, want, w.cfg.ReadBlock)
		if err != nil {
			w.log.Warn("worker: read failed", "error", err)
			w.pauseOrStop()
			continue
		}

		if len(records) > 0 {
			if len(pending) == 0 {
				oldest = time.Now()
			}
			pending = append(pending, records...)
		}

		full := w.cfg.BatchSize > 0 && int64(len(pending)) >= w.cfg.BatchSize
		aged := len(pending) > 0 && time.Since(oldest) >= w.cfg.BatchMaxAge
		if full || aged {
			w.processBatch(ctx, pending)
			pending = nil
			continue
		}

		if len(records) == 0 {
			// A backend whose ReadGroup doesn't itself block (e.g. the
			// in-memory test broker) still needs a pause here so polling
			// doesn't spin the CPU.
			w.pauseOrStop()
		}
	}
}

// pauseOrStop waits out ReadBlock before the next poll attempt, returning
// early if Stop has been called.
func (w *Worker[T]) pauseOrStop() {
	timer := time.NewTimer(w.cfg.ReadBlock)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopCh:
	}
}

func (w *Worker[T]) processBatch(ctx context.Context, records []queue.Record) {
	start := time.Now()
	values := make(map[string]T, len(records))

	for _, rec := range records {
		value, err := w.decode(rec.Payload)
		if err != nil {
			w.log.Warn("worker: decode failed, dead-lettering", "record_id", rec.ID, "error", err)
			w.deadLetter(ctx, rec, err.Error())
			_ = w.broker.Ack(ctx, w.cfg.Stream, w.cfg.Group, rec.ID)
			continue
		}
		values[rec.ID] = value
	}

	if len(values) == 0 {
		return
	}

	results, err := w.sink.Send(ctx, values)
	if err != nil {
		w.log.Warn("worker: sink call failed, leaving batch pending", "error", err)
		metrics.Get().RecordBatchFlush(w.name, len(values), time.Since(start))
		return
	}

	toAck := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Outcome {
		case sinks.OutcomeAccepted:
			toAck = append(toAck, r.ID)
		case sinks.OutcomePoison:
			w.deadLetterByRecordID(ctx, records, r.ID, errString(r.Err))
			toAck = append(toAck, r.ID)
		case sinks.OutcomeRetry:
			// leave unacked; a future ReadGroup/reclaim redelivers it
		}
	}

	if len(toAck) > 0 {
		if err := w.broker.Ack(ctx, w.cfg.Stream, w.cfg.Group, toAck...); err != nil {
			w.log.Warn("worker: ack failed", "error", err)
		}
	}

	metrics.Get().RecordBatchFlush(w.name, len(values), time.Since(start))
}

func (w *Worker[T]) deadLetterByRecordID(ctx context.Context, records []queue.Record, recordID, reason string) {
	for _, rec := range records {
		if rec.ID == recordID {
			w.deadLetter(ctx, rec, reason)
			return
		}
	}
}

func (w *Worker[T]) deadLetter(ctx context.Context, rec queue.Record, reason string) {
	streamRec := domain.StreamRecord{
		ID:      rec.ID,
		Stream:  w.cfg.Stream,
		Payload: rec.Payload,
	}
	entry := domain.NewDeadLetterEntry(streamRec, reason, time.Now())
	deadStream := domain.DeadLetterStreamName(w.cfg.Stream)
	if _, err := w.broker.Append(ctx, deadStream, rec.Payload, 0); err != nil {
		w.log.Warn("worker: failed to append to dead-letter stream", "error", err)
	}
	metrics.Get().RecordDeadLetter(w.cfg.Stream, reason)
	w.auditDeadLetter(ctx, entry)
}

func (w *Worker[T]) auditDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) {
	if w.auditLogger == nil {
		return
	}
	auditEntry := audit.NewEntry().
		Service(w.name + "-worker").
		Method("worker.deadLetter").
		Action(audit.ActionDeadLetter).
		Outcome(audit.OutcomeFailure).
		Resource("record", entry.OriginalID).
		Meta("reason", entry.Reason).
		Build()
	if err := w.auditLogger.Log(ctx, auditEntry); err != nil {
		logger.Log.Warn("worker: failed to log dead-letter audit entry", "error", err)
	}
}

func (w *Worker[T]) reclaimLoop() {
	defer w.wg.Done()
	interval := w.cfg.ReclaimInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reclaimOnce()
		}
	}
}

func (w *Worker[T]) reclaimOnce() {
	ctx := context.Background()
	records, err := w.broker.ClaimStale(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ReclaimIdle, w.cfg.BatchSize)
	if err != nil {
		w.log.Warn("worker: reclaim failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	w.log.Info("worker: reclaimed stale records", "count", len(records))
	metrics.Get().RecordQueueClaim(w.cfg.Stream, len(records))
	w.processBatch(ctx, records)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
