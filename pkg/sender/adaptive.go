// Package sender implements the agent-side adaptive transport used by
// external collectors pushing batches into the receiver's HTTP/3 and
// HTTP/1.1 endpoints (C10): HTTP/3 primary, HTTP/1.1 fallback, with
// automatic re-promotion after a cooldown once HTTP/3 looks healthy again.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// Config controls the adaptive sender's endpoints, retry policy, and
// promotion behaviour.
type Config struct {
	URL               string
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	PromotionCooldown time.Duration
	BufferSize        int
	InsecureSkipTLS   bool
}

// DefaultConfig returns sane defaults for an edge collector.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Timeout:           5 * time.Second,
		MaxRetries:        4,
		RetryBackoff:      100 * time.Millisecond,
		PromotionCooldown: 5 * time.Minute,
		BufferSize:        1024,
	}
}

// state is the adaptive sender's protocol state: whether HTTP/3 is
// currently believed usable, and when the last fallback to HTTP/1.1
// happened.
type state struct {
	mu             sync.Mutex
	useH3          bool
	lastFallbackAt time.Time
}

func (s *state) protocol() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useH3
}

func (s *state) fallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useH3 = false
	s.lastFallbackAt = time.Now()
}

func (s *state) maybePromote(cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useH3 {
		return
	}
	if time.Since(s.lastFallbackAt) > cooldown {
		s.useH3 = true
	}
}

// AdaptiveSender pushes serialised batches to a receiver, preferring
// HTTP/3 and falling back to HTTP/1.1 when the QUIC transport is
// unavailable. Batches are queued on a bounded channel; when the channel
// is full, the batch is dropped and DroppedTotal is incremented.
type AdaptiveSender struct {
	cfg      Config
	state    state
	h3Client *http.Client
	h1Client *http.Client

	queue chan []byte

	mu           sync.Mutex
	droppedTotal uint64

	wg   sync.WaitGroup
	done chan struct{}
}

// New builds an AdaptiveSender and starts its background drain loop.
// Call Close to stop it.
func New(cfg Config) *AdaptiveSender {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS} //nolint:gosec // opt-in, for talking to a dev receiver with a self-signed cert

	s := &AdaptiveSender{
		cfg: cfg,
		h1Client: &http.Client{
			Timeout: cfg.Timeout,
		},
		h3Client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http3.Transport{TLSClientConfig: tlsConfig},
		},
		queue: make(chan []byte, cfg.BufferSize),
		done:  make(chan struct{}),
	}
	s.state.useH3 = true

	s.wg.Add(1)
	go s.drain()

	return s
}

// Enqueue submits a serialised, already-compressed-if-enabled batch for
// delivery. Returns false if the send buffer is full; the caller should
// treat a false return as a drop (DroppedTotal already incremented).
func (s *AdaptiveSender) Enqueue(batch []byte) bool {
	select {
	case s.queue <- batch:
		return true
	default:
		s.mu.Lock()
		s.droppedTotal++
		s.mu.Unlock()
		return false
	}
}

// DroppedTotal returns the number of batches dropped because the send
// buffer was full.
func (s *AdaptiveSender) DroppedTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedTotal
}

// Close stops the drain loop, waiting for any in-flight send to finish.
func (s *AdaptiveSender) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *AdaptiveSender) drain() {
	defer s.wg.Done()
	for {
		select {
		case batch := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
			_ = s.Send(ctx, batch)
			cancel()
		case <-s.done:
			return
		}
	}
}

// Send delivers one batch synchronously, applying the protocol-fallback
// and exponential-backoff-with-bounded-attempts policy. A 4xx response
// breaks the retry loop since the request itself is malformed.
func (s *AdaptiveSender) Send(ctx context.Context, batch []byte) error {
	s.state.maybePromote(s.cfg.PromotionCooldown)

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepOrDone(ctx, backoffDelay(s.cfg.RetryBackoff, attempt-1)); err != nil {
				return err
			}
		}

		useH3 := s.state.protocol()
		status, err := s.attempt(ctx, batch, useH3)

		// A failed HTTP/3 attempt falls back to HTTP/1.1 immediately,
		// within the same attempt, rather than waiting for the next
		// backed-off retry.
		if err != nil && useH3 {
			s.state.fallback()
			status, err = s.attempt(ctx, batch, false)
		}

		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err == nil && status >= 400 && status < 500 {
			return fmt.Errorf("sender: non-retryable status %d", status)
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("sender: status %d", status)
		}
	}

	return fmt.Errorf("sender: exhausted %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

func (s *AdaptiveSender) attempt(ctx context.Context, batch []byte, useH3 bool) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(batch))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.h1Client
	if useH3 {
		client = s.h3Client
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepOrDone(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
