package domain

import (
	"net"

	"ingestpipe/pkg/apperror"
)

// Protocol distinguishes TCP/UDP traffic for the admission filter's
// per-protocol counters.
type Protocol int

const (
	ProtocolUnspecified Protocol = iota
	ProtocolTCP
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unspecified"
	}
}

// Intent classifies the destination of a packet for metrics: the API
// receivers or the syslog UDP range.
type Intent int

const (
	IntentUnspecified Intent = iota
	IntentAPI
	IntentSyslog
)

func (i Intent) String() string {
	switch i {
	case IntentAPI:
		return "api"
	case IntentSyslog:
		return "syslog"
	default:
		return "unspecified"
	}
}

// SyslogPortLow and SyslogPortHigh bound the UDP port range C6 binds
// per-source listeners on; used to infer Intent from a destination port.
const (
	SyslogPortLow  = 10000
	SyslogPortHigh = 11000
)

// InferIntent classifies a destination port as API or syslog traffic.
func InferIntent(port int) Intent {
	if port >= SyslogPortLow && port <= SyslogPortHigh {
		return IntentSyslog
	}
	return IntentAPI
}

// AdmissionRule is a (network, prefix-length, optional port) entry applied
// by C1/C2 against a client address and destination port. Port 0 matches
// any port.
type AdmissionRule struct {
	Network   *net.IPNet
	Port      int
	Enabled   bool
}

// Validate checks the rule has a parseable network.
func (r *AdmissionRule) Validate() error {
	if r == nil {
		return apperror.ErrNilRecord
	}
	if r.Network == nil {
		return apperror.NewWithField(apperror.CodeInvalidInput, "network is required", "network")
	}
	if r.Port != 0 && (r.Port < 1 || r.Port > 65535) {
		return apperror.NewWithField(apperror.CodeInvalidInput, "port out of range", "port")
	}
	return nil
}

// Matches reports whether a client address and destination port satisfy
// this rule.
func (r *AdmissionRule) Matches(addr net.IP, destPort int) bool {
	if !r.Enabled || r.Network == nil {
		return false
	}
	if !r.Network.Contains(addr) {
		return false
	}
	return r.Port == 0 || r.Port == destPort
}

// ParseCIDR builds an AdmissionRule from a CIDR string, e.g. "10.0.0.0/8".
func ParseCIDR(cidr string, port int, enabled bool) (*AdmissionRule, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidInput, "invalid CIDR").WithField("network")
	}
	return &AdmissionRule{Network: network, Port: port, Enabled: enabled}, nil
}
