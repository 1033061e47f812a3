package admission

import (
	"net"
	"testing"

	"ingestpipe/pkg/domain"
)

func mustRule(t *testing.T, cidr string, port int) *domain.AdmissionRule {
	t.Helper()
	rule, err := domain.ParseCIDR(cidr, port, true)
	if err != nil {
		t.Fatalf("failed to build rule: %v", err)
	}
	return rule
}

func TestUserspaceFilter_AllowsMatchingRule(t *testing.T) {
	f := NewUserspaceFilter()
	rule := mustRule(t, "10.0.0.0/8", 0)
	if err := f.Install([]*domain.AdmissionRule{rule}, []int{443}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if !f.Allow(domain.ProtocolTCP, net.ParseIP("10.1.2.3"), 443) {
		t.Error("expected matching CIDR and allowed port to pass")
	}
}

func TestUserspaceFilter_BlocksDisallowedPort(t *testing.T) {
	f := NewUserspaceFilter()
	rule := mustRule(t, "10.0.0.0/8", 0)
	if err := f.Install([]*domain.AdmissionRule{rule}, []int{443}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if f.Allow(domain.ProtocolTCP, net.ParseIP("10.1.2.3"), 9999) {
		t.Error("expected a non-allowed destination port to be blocked")
	}
}

func TestUserspaceFilter_BlocksNonMatchingCIDR(t *testing.T) {
	f := NewUserspaceFilter()
	rule := mustRule(t, "10.0.0.0/8", 0)
	if err := f.Install([]*domain.AdmissionRule{rule}, []int{443}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if f.Allow(domain.ProtocolTCP, net.ParseIP("192.168.1.1"), 443) {
		t.Error("expected an address outside any rule's CIDR to be blocked")
	}
}

func TestUserspaceFilter_PortSpecificRule(t *testing.T) {
	f := NewUserspaceFilter()
	rule := mustRule(t, "10.0.0.0/8", 10001)
	if err := f.Install([]*domain.AdmissionRule{rule}, []int{10001, 10002}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if !f.Allow(domain.ProtocolUDP, net.ParseIP("10.5.5.5"), 10001) {
		t.Error("expected exact port match to pass")
	}
	if f.Allow(domain.ProtocolUDP, net.ParseIP("10.5.5.5"), 10002) {
		t.Error("expected a different port from the rule's fixed port to be blocked despite being in allowedPorts")
	}
}

func TestUserspaceFilter_Passthrough(t *testing.T) {
	f := NewUserspaceFilter()
	f.Passthrough(true)

	if !f.Allow(domain.ProtocolTCP, net.ParseIP("203.0.113.1"), 1) {
		t.Error("expected passthrough mode to allow everything")
	}
}

func TestUserspaceFilter_Stats_SplitsByProtocolAndIntent(t *testing.T) {
	f := NewUserspaceFilter()
	rule := mustRule(t, "10.0.0.0/8", 0)
	if err := f.Install([]*domain.AdmissionRule{rule}, []int{443, 10005}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	f.Allow(domain.ProtocolTCP, net.ParseIP("10.0.0.1"), 443)
	f.Allow(domain.ProtocolUDP, net.ParseIP("10.0.0.1"), 10005)
	f.Allow(domain.ProtocolTCP, net.ParseIP("192.168.1.1"), 443)

	stats := f.Stats()
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.Allowed != 2 || stats.Blocked != 1 {
		t.Errorf("expected 2 allowed, 1 blocked, got %d/%d", stats.Allowed, stats.Blocked)
	}

	apiStats := stats.ByProtocolIntent["tcp:api"]
	if apiStats.Allowed != 1 || apiStats.Blocked != 1 {
		t.Errorf("expected tcp:api allowed=1 blocked=1, got %+v", apiStats)
	}

	syslogStats := stats.ByProtocolIntent["udp:syslog"]
	if syslogStats.Allowed != 1 {
		t.Errorf("expected udp:syslog allowed=1, got %+v", syslogStats)
	}
}

func TestUserspaceFilter_Install_RejectsInvalidRule(t *testing.T) {
	f := NewUserspaceFilter()
	invalid := &domain.AdmissionRule{Network: nil, Port: 0, Enabled: true}

	if err := f.Install([]*domain.AdmissionRule{invalid}, []int{443}); err == nil {
		t.Fatal("expected install to reject a rule with a nil network")
	}
}
