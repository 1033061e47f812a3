package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/domain"
)

type memoryEntry struct {
	id      string
	payload []byte
}

type pendingItem struct {
	consumer      string
	deliveredAt   time.Time
	deliveryCount int64
}

type memoryStream struct {
	mu        sync.Mutex
	entries   []memoryEntry
	nextSeq   int64
	groups    map[string]*memoryGroup
}

type memoryGroup struct {
	lastDelivered int // index into entries already handed to >
	pending       map[string]*pendingItem
}

// MemoryBroker is an in-process fake Broker for unit tests that don't need
// INTEGRATION_TESTS=1, mirroring the dual memory/redis backend convention
// used elsewhere in this module.
type MemoryBroker struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

// NewMemoryBroker constructs an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{streams: make(map[string]*memoryStream)}
}

func (b *MemoryBroker) stream(name string) *memoryStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &memoryStream{groups: make(map[string]*memoryGroup)}
		b.streams[name] = s
	}
	return s
}

func (b *MemoryBroker) Append(_ context.Context, stream string, payload []byte, maxLen int64) (string, error) {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	id := fmt.Sprintf("%d-0", s.nextSeq)
	s.entries = append(s.entries, memoryEntry{id: id, payload: payload})

	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		drop := int64(len(s.entries)) - maxLen
		s.entries = s.entries[drop:]
		for _, g := range s.groups {
			g.lastDelivered -= int(drop)
			if g.lastDelivered < 0 {
				g.lastDelivered = 0
			}
		}
	}

	return id, nil
}

func (b *MemoryBroker) EnsureGroup(_ context.Context, stream, group, startID string) error {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[group]; ok {
		return nil
	}

	lastDelivered := 0
	if startID == "$" || startID == "" {
		lastDelivered = len(s.entries)
	}
	s.groups[group] = &memoryGroup{lastDelivered: lastDelivered, pending: make(map[string]*pendingItem)}
	return nil
}

func (b *MemoryBroker) ReadGroup(_ context.Context, stream, group, consumer string, max int64, _ time.Duration) ([]Record, error) {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, "consumer group not found").WithField(group)
	}

	var out []Record
	for g.lastDelivered < len(s.entries) && int64(len(out)) < max {
		e := s.entries[g.lastDelivered]
		g.lastDelivered++
		g.pending[e.id] = &pendingItem{consumer: consumer, deliveredAt: time.Now(), deliveryCount: 1}
		out = append(out, Record{ID: e.id, Payload: e.payload})
	}
	return out, nil
}

func (b *MemoryBroker) Ack(_ context.Context, stream, group string, ids ...string) error {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return apperror.New(apperror.CodeNotFound, "consumer group not found").WithField(group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (b *MemoryBroker) Pending(_ context.Context, stream, group string) (domain.PendingSummary, error) {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return domain.PendingSummary{}, apperror.New(apperror.CodeNotFound, "consumer group not found").WithField(group)
	}

	ids := make([]string, 0, len(g.pending))
	perConsumer := make(map[string]int64)
	for id, item := range g.pending {
		ids = append(ids, id)
		perConsumer[item.consumer]++
	}
	sort.Strings(ids)

	summary := domain.PendingSummary{Count: int64(len(ids)), PerConsumer: perConsumer}
	if len(ids) > 0 {
		summary.MinID = ids[0]
		summary.MaxID = ids[len(ids)-1]
	}
	return summary, nil
}

func (b *MemoryBroker) ClaimStale(_ context.Context, stream, group, consumer string, idleMs time.Duration, count int64) ([]Record, error) {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, "consumer group not found").WithField(group)
	}

	byID := make(map[string][]byte, len(s.entries))
	for _, e := range s.entries {
		byID[e.id] = e.payload
	}

	now := time.Now()
	var claimed []Record
	for id, item := range g.pending {
		if int64(len(claimed)) >= count {
			break
		}
		if now.Sub(item.deliveredAt) < idleMs {
			continue
		}
		item.consumer = consumer
		item.deliveredAt = now
		item.deliveryCount++
		if payload, ok := byID[id]; ok {
			claimed = append(claimed, Record{ID: id, Payload: payload})
		}
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

func (b *MemoryBroker) Trim(_ context.Context, stream string, maxLen int64) (int64, error) {
	s := b.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(len(s.entries)) <= maxLen {
		return 0, nil
	}

	drop := int64(len(s.entries)) - maxLen
	s.entries = s.entries[drop:]
	for _, g := range s.groups {
		g.lastDelivered -= int(drop)
		if g.lastDelivered < 0 {
			g.lastDelivered = 0
		}
	}
	return drop, nil
}

func (b *MemoryBroker) Ping(_ context.Context) error {
	return nil
}

func (b *MemoryBroker) Close() error {
	return nil
}
