// Package listener implements the UDP syslog receiver (C6): one bound
// socket per distinct UDPPort registered by catalogue sources, each datagram
// filtered, parsed, and appended to the log stream.
package listener

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"ingestpipe/pkg/admission"
	"ingestpipe/pkg/catalogue"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/pkg/syslogparse"
)

// maxDatagramSize bounds a single read so one oversized datagram can't
// stall a listener goroutine.
const maxDatagramSize = 64 * 1024

// Config controls which sources the listener binds to and where parsed
// events are enqueued.
type Config struct {
	BindHost      string
	PortRangeLow  int
	PortRangeHigh int
	LogStream     string
	StreamMaxLen  int64
}

// Listener reconciles the catalogue's registered UDP sources into one
// bound net.PacketConn per port, and implements supervisor.Component.
type Listener struct {
	cfg    Config
	repo   catalogue.Repository
	broker queue.Broker
	filter admission.Filter

	mu    sync.Mutex
	conns map[int]net.PacketConn
	wg    sync.WaitGroup
}

// New builds a Listener. filter may be nil to disable ingress filtering.
func New(cfg Config, repo catalogue.Repository, broker queue.Broker, filter admission.Filter) *Listener {
	return &Listener{
		cfg:    cfg,
		repo:   repo,
		broker: broker,
		filter: filter,
		conns:  make(map[int]net.PacketConn),
	}
}

// Name implements supervisor.Component.
func (l *Listener) Name() string { return "syslog-listener" }

// Start lists every registered source with a UDPPort inside the
// configured range and binds one socket per distinct port.
func (l *Listener) Start(ctx context.Context) error {
	sources, err := l.repo.List(ctx)
	if err != nil {
		return err
	}

	ports := make(map[int]struct{})
	for _, src := range sources {
		if !src.Enabled || src.UDPPort == 0 {
			continue
		}
		if src.UDPPort < l.cfg.PortRangeLow || src.UDPPort > l.cfg.PortRangeHigh {
			logger.Log.Warn("syslog: source UDP port outside configured range, skipping",
				"source", src.ID, "port", src.UDPPort)
			continue
		}
		ports[src.UDPPort] = struct{}{}
	}

	for port := range ports {
		if err := l.bind(port); err != nil {
			logger.Log.Error("syslog: failed to bind port", "port", port, "error", err)
			continue
		}
	}

	logger.Log.Info("syslog: listening", "ports", len(l.conns))
	return nil
}

func (l *Listener) bind(port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(l.cfg.BindHost), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conns[port] = conn
	l.mu.Unlock()

	l.wg.Add(1)
	go l.serve(conn, port)
	return nil
}

func (l *Listener) serve(conn net.PacketConn, port int) {
	defer l.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		l.handleDatagram(buf[:n], remote, port)
	}
}

func (l *Listener) handleDatagram(datagram []byte, remote net.Addr, port int) {
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}

	if l.filter != nil {
		addr := net.ParseIP(host)
		if !l.filter.Allow(domain.ProtocolUDP, addr, port) {
			metrics.Get().RecordAdmissionDrop(domain.ProtocolUDP.String(), domain.InferIntent(port).String())
			return
		}
	}

	event, err := syslogparse.Parse(datagram, host)
	if err != nil {
		logger.Log.Warn("syslog: failed to parse datagram", "remote", host, "port", port, "error", err)
		return
	}
	if err := event.Validate(); err != nil {
		logger.Log.Warn("syslog: parsed event failed validation", "remote", host, "port", port, "error", err)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("syslog: failed to marshal event", "error", err)
		return
	}

	if _, err := l.broker.Append(context.Background(), l.cfg.LogStream, payload, l.cfg.StreamMaxLen); err != nil {
		logger.Log.Error("syslog: queue append failed", "error", err)
		return
	}
	metrics.Get().RecordQueueAppend(l.cfg.LogStream)
}

// Stop closes every bound socket, which unblocks each serve goroutine's
// ReadFrom call, and waits for them to exit.
func (l *Listener) Stop(_ context.Context) error {
	l.mu.Lock()
	for _, conn := range l.conns {
		_ = conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
