package domain

import (
	"net"
	"time"

	"ingestpipe/pkg/apperror"
)

// Tier controls a source's rate-limit bucket. Enterprise is unlimited.
type Tier int

const (
	TierUnspecified Tier = iota
	TierCommunity
	TierProfessional
	TierEnterprise
)

// String returns the lowercase tier name used in config lookups and metrics labels.
func (t Tier) String() string {
	switch t {
	case TierCommunity:
		return "community"
	case TierProfessional:
		return "professional"
	case TierEnterprise:
		return "enterprise"
	default:
		return "unspecified"
	}
}

// ParseTier maps a catalogue tier string onto a Tier, defaulting to community
// for unrecognised values rather than rejecting the source outright.
func ParseTier(s string) Tier {
	switch s {
	case "professional":
		return TierProfessional
	case "enterprise":
		return TierEnterprise
	case "community":
		return TierCommunity
	default:
		return TierCommunity
	}
}

// AllowedClient is one entry of a source's client allow-list: either a bare
// IP (PrefixLen 32/128) or a CIDR prefix.
type AllowedClient struct {
	Network   string
	PrefixLen int
}

// Source is a registered producer, mirrored read-only from the external
// catalogue.
type Source struct {
	ID              string
	Name            string
	APIKeys         []string
	BearerSubjects  []string
	MTLSSubject     string
	AllowedClients  []AllowedClient
	UDPPort         int
	Enabled         bool
	Tier            Tier
	CreatedAt       time.Time
	LastSeenAt      time.Time
}

// Validate checks the structural invariants a catalogue row must satisfy
// before the source is usable by the authenticator.
func (s *Source) Validate() error {
	if s == nil {
		return apperror.ErrNilRecord
	}
	if s.ID == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "source id is required", "id")
	}
	if s.Name == "" {
		return apperror.NewWithField(apperror.CodeInvalidInput, "source name is required", "name")
	}
	if s.UDPPort != 0 && (s.UDPPort < 1 || s.UDPPort > 65535) {
		return apperror.NewWithField(apperror.CodeInvalidInput, "udp port out of range", "udp_port")
	}
	return nil
}

// Touch records that the source was just seen on a successful auth path.
func (s *Source) Touch(now time.Time) {
	s.LastSeenAt = now
}

// AllowsClient reports whether addr is permitted by this source's
// allowed-client list. An empty list means no per-source restriction is
// configured, so every address is allowed.
func (s *Source) AllowsClient(addr net.IP) bool {
	if len(s.AllowedClients) == 0 {
		return true
	}
	if addr == nil {
		return false
	}
	for _, ac := range s.AllowedClients {
		ip := net.ParseIP(ac.Network)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		prefix := ac.PrefixLen
		if prefix <= 0 {
			prefix = bits
		}
		mask := net.CIDRMask(prefix, bits)
		network := &net.IPNet{IP: ip.Mask(mask), Mask: mask}
		if network.Contains(addr) {
			return true
		}
	}
	return false
}
