package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared across the receiver, worker, and sink packages.
const (
	AttrSourceID = "source.id"
	AttrTier     = "source.tier"

	AttrStream   = "queue.stream"
	AttrGroup    = "queue.group"
	AttrConsumer = "queue.consumer"
	AttrRecordID = "queue.record_id"

	AttrBatchSize = "worker.batch_size"
	AttrRetries   = "worker.retry_count"

	AttrSinkName   = "sink.name"
	AttrSinkStatus = "sink.status"
)

// SourceAttributes identifies the catalogue source a span belongs to.
func SourceAttributes(sourceID, tier string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSourceID, sourceID),
		attribute.String(AttrTier, tier),
	}
}

// QueueAttributes identifies the stream/group/consumer a queue span acts on.
func QueueAttributes(stream, group, consumer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStream, stream),
		attribute.String(AttrGroup, group),
		attribute.String(AttrConsumer, consumer),
	}
}

// BatchAttributes describes a worker's batch-processing span.
func BatchAttributes(size, retries int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrBatchSize, size),
		attribute.Int(AttrRetries, retries),
	}
}

// SinkAttributes describes the outcome of a call to an external sink.
func SinkAttributes(name, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSinkName, name),
		attribute.String(AttrSinkStatus, status),
	}
}
