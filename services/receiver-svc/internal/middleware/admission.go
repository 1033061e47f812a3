package middleware

import (
	"net"
	"strconv"

	"ingestpipe/pkg/admission"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
)

// AdmissionListener wraps a net.Listener, rejecting connections the
// ingress filter (C1) denies before they ever reach the HTTP server.
type AdmissionListener struct {
	net.Listener
	filter   admission.Filter
	protocol domain.Protocol
	destPort int
}

// WrapListener applies filter to l. Connections from denied addresses are
// closed immediately and Accept loops to the next pending connection.
func WrapListener(l net.Listener, filter admission.Filter) *AdmissionListener {
	destPort := 0
	if _, portStr, err := net.SplitHostPort(l.Addr().String()); err == nil {
		if p, err := strconv.Atoi(portStr); err == nil {
			destPort = p
		}
	}
	return &AdmissionListener{Listener: l, filter: filter, protocol: domain.ProtocolTCP, destPort: destPort}
}

func (l *AdmissionListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		remoteHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}
		addr := net.ParseIP(remoteHost)

		if !l.filter.Allow(l.protocol, addr, l.destPort) {
			metrics.Get().RecordAdmissionDrop(l.protocol.String(), domain.InferIntent(l.destPort).String())
			logger.Log.Warn("admission: connection denied", "remote", remoteHost, "port", l.destPort)
			conn.Close()
			continue
		}

		return conn, nil
	}
}
