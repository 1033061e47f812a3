package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/domain"
)

// payloadField is the single field every stream entry is stored under; the
// broker treats payloads as opaque bytes, so one field is enough.
const payloadField = "payload"

// RedisBroker implements Broker against Redis Streams.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker dials Redis and verifies connectivity before returning.
func NewRedisBroker(url string, dialTimeout time.Duration) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid queue url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue broker ping failed: %w", err)
	}

	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Append(ctx context.Context, stream string, payload []byte, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeUnavailable, "append to stream failed").WithField(stream)
	}
	return id, nil
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	if startID == "" {
		startID = "$"
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperror.Wrap(err, apperror.CodeUnavailable, "ensure consumer group failed").WithField(stream)
	}
	return nil
}

func (b *RedisBroker) ReadGroup(ctx context.Context, stream, group, consumer string, max int64, blockMs time.Duration) ([]Record, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    max,
		Block:    blockMs,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "read group failed").WithField(stream)
	}

	return flattenMessages(res), nil
}

func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "ack failed").WithField(stream)
	}
	return nil
}

func (b *RedisBroker) Pending(ctx context.Context, stream, group string) (domain.PendingSummary, error) {
	res, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return domain.PendingSummary{}, apperror.Wrap(err, apperror.CodeUnavailable, "pending summary failed").WithField(stream)
	}

	summary := domain.PendingSummary{
		Count:       res.Count,
		MinID:       res.Lower,
		MaxID:       res.Higher,
		PerConsumer: make(map[string]int64, len(res.Consumers)),
	}
	for consumer, count := range res.Consumers {
		summary.PerConsumer[consumer] = count
	}
	return summary, nil
}

func (b *RedisBroker) ClaimStale(ctx context.Context, stream, group, consumer string, idleMs time.Duration, count int64) ([]Record, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "pending scan failed").WithField(stream)
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Idle >= idleMs {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  idleMs,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "claim stale failed").WithField(stream)
	}

	return messagesToRecords(msgs), nil
}

func (b *RedisBroker) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	n, err := b.client.XTrimMaxLen(ctx, stream, maxLen).Result()
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeUnavailable, "trim failed").WithField(stream)
	}
	return n, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "queue broker unreachable")
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func flattenMessages(res []redis.XStream) []Record {
	var out []Record
	for _, stream := range res {
		out = append(out, messagesToRecords(stream.Messages)...)
	}
	return out
}

func messagesToRecords(msgs []redis.XMessage) []Record {
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values[payloadField]
		var payload []byte
		switch v := raw.(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		}
		out = append(out, Record{ID: m.ID, Payload: payload})
	}
	return out
}
