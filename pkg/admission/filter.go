// Package admission implements the ingress filter (C1): an allow-list of
// CIDR/port rules checked against every inbound connection or datagram.
// A kernel/eBPF implementation would be a drop-in swap behind the same
// Filter interface; this package ships the authoritative userspace
// reference implementation, since the filter is best-effort and userspace
// must always be able to perform the same checks.
package admission

import (
	"net"
	"sync"
	"sync/atomic"

	"ingestpipe/pkg/domain"
)

// Filter is the pluggable ingress-filtering interface C1 exposes. A
// best-effort accelerator (e.g. an eBPF program) and the userspace
// reference implementation both satisfy it.
type Filter interface {
	// Install replaces the active rule set and allowed destination ports.
	Install(rules []*domain.AdmissionRule, allowedPorts []int) error
	// Allow reports whether a packet from addr to destPort over protocol
	// passes the installed rules, and records it in the stats counters.
	Allow(protocol domain.Protocol, addr net.IP, destPort int) bool
	// Stats returns a snapshot of the per-protocol/intent counters.
	Stats() Stats
	// Passthrough disables filtering; every packet is allowed and counted.
	Passthrough(enabled bool)
}

// counterKey groups a protocol and intent for the per-CPU-style counters.
type counterKey struct {
	protocol domain.Protocol
	intent   domain.Intent
}

// Stats is a point-in-time snapshot of admission counters.
type Stats struct {
	Total   uint64
	Allowed uint64
	Blocked uint64
	// ByProtocolIntent breaks allowed/blocked down by (protocol, intent);
	// keyed by "tcp:api", "udp:syslog", etc.
	ByProtocolIntent map[string]ProtocolIntentStats
}

// ProtocolIntentStats is the allowed/blocked split for one (protocol,
// intent) pair.
type ProtocolIntentStats struct {
	Allowed uint64
	Blocked uint64
}

// counter is a pair of atomically-incremented allowed/blocked totals; the
// userspace reference implementation uses one per (protocol, intent) pair
// rather than true per-CPU counters, which only make sense inside a kernel
// accelerator.
type counter struct {
	allowed atomic.Uint64
	blocked atomic.Uint64
}

// UserspaceFilter is the authoritative reference Filter: CIDR/port
// matching done entirely in Go, with no kernel assistance.
type UserspaceFilter struct {
	mu           sync.RWMutex
	rules        []*domain.AdmissionRule
	allowedPorts map[int]bool

	passthrough atomic.Bool
	total       atomic.Uint64
	allowed     atomic.Uint64
	blocked     atomic.Uint64

	countersMu sync.Mutex
	counters   map[counterKey]*counter
}

// NewUserspaceFilter builds an empty, closed-by-default filter; call
// Install before serving traffic.
func NewUserspaceFilter() *UserspaceFilter {
	return &UserspaceFilter{
		allowedPorts: make(map[int]bool),
		counters:     make(map[counterKey]*counter),
	}
}

// Install replaces the active rule set and allowed destination ports.
func (f *UserspaceFilter) Install(rules []*domain.AdmissionRule, allowedPorts []int) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	ports := make(map[int]bool, len(allowedPorts))
	for _, p := range allowedPorts {
		ports[p] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
	f.allowedPorts = ports
	return nil
}

// Allow reports whether addr/destPort/protocol passes the installed rules.
func (f *UserspaceFilter) Allow(protocol domain.Protocol, addr net.IP, destPort int) bool {
	f.total.Add(1)
	intent := domain.InferIntent(destPort)
	c := f.counterFor(protocol, intent)

	if f.passthrough.Load() {
		f.allowed.Add(1)
		c.allowed.Add(1)
		return true
	}

	f.mu.RLock()
	portAllowed := f.allowedPorts[destPort]
	rules := f.rules
	f.mu.RUnlock()

	if !portAllowed {
		f.blocked.Add(1)
		c.blocked.Add(1)
		return false
	}

	for _, r := range rules {
		if r.Matches(addr, destPort) {
			f.allowed.Add(1)
			c.allowed.Add(1)
			return true
		}
	}

	f.blocked.Add(1)
	c.blocked.Add(1)
	return false
}

func (f *UserspaceFilter) counterFor(protocol domain.Protocol, intent domain.Intent) *counter {
	key := counterKey{protocol: protocol, intent: intent}

	f.countersMu.Lock()
	defer f.countersMu.Unlock()
	c, ok := f.counters[key]
	if !ok {
		c = &counter{}
		f.counters[key] = c
	}
	return c
}

// Stats returns a snapshot of the per-protocol/intent counters.
func (f *UserspaceFilter) Stats() Stats {
	stats := Stats{
		Total:            f.total.Load(),
		Allowed:          f.allowed.Load(),
		Blocked:          f.blocked.Load(),
		ByProtocolIntent: make(map[string]ProtocolIntentStats),
	}

	f.countersMu.Lock()
	defer f.countersMu.Unlock()
	for key, c := range f.counters {
		name := key.protocol.String() + ":" + key.intent.String()
		stats.ByProtocolIntent[name] = ProtocolIntentStats{
			Allowed: c.allowed.Load(),
			Blocked: c.blocked.Load(),
		}
	}
	return stats
}

// Passthrough disables filtering; every packet is allowed and counted.
func (f *UserspaceFilter) Passthrough(enabled bool) {
	f.passthrough.Store(enabled)
}

var _ Filter = (*UserspaceFilter)(nil)
