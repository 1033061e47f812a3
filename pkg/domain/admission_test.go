package domain

import (
	"net"
	"testing"
)

func TestInferIntent(t *testing.T) {
	tests := []struct {
		port int
		want Intent
	}{
		{10500, IntentSyslog},
		{10000, IntentSyslog},
		{11000, IntentSyslog},
		{8080, IntentAPI},
		{443, IntentAPI},
	}
	for _, tt := range tests {
		if got := InferIntent(tt.port); got != tt.want {
			t.Errorf("InferIntent(%d) = %v, want %v", tt.port, got, tt.want)
		}
	}
}

func TestParseCIDR(t *testing.T) {
	rule, err := ParseCIDR("10.0.0.0/8", 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rule.Matches(net.ParseIP("10.1.2.3"), 9090) {
		t.Error("expected address inside CIDR to match")
	}
	if rule.Matches(net.ParseIP("11.1.2.3"), 9090) {
		t.Error("expected address outside CIDR not to match")
	}
}

func TestParseCIDR_Invalid(t *testing.T) {
	if _, err := ParseCIDR("not-a-cidr", 0, true); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}

func TestAdmissionRule_Matches_PortZeroMatchesAny(t *testing.T) {
	rule, _ := ParseCIDR("192.168.0.0/16", 0, true)
	if !rule.Matches(net.ParseIP("192.168.1.1"), 12345) {
		t.Error("expected port 0 to match any destination port")
	}
}

func TestAdmissionRule_Matches_SpecificPort(t *testing.T) {
	rule, _ := ParseCIDR("192.168.0.0/16", 10001, true)
	if !rule.Matches(net.ParseIP("192.168.1.1"), 10001) {
		t.Error("expected exact port match")
	}
	if rule.Matches(net.ParseIP("192.168.1.1"), 10002) {
		t.Error("expected mismatch on different port")
	}
}

func TestAdmissionRule_Matches_Disabled(t *testing.T) {
	rule, _ := ParseCIDR("0.0.0.0/0", 0, false)
	if rule.Matches(net.ParseIP("1.2.3.4"), 80) {
		t.Error("expected disabled rule never to match")
	}
}

func TestAdmissionRule_Validate(t *testing.T) {
	_, network, _ := net.ParseCIDR("10.0.0.0/8")
	valid := AdmissionRule{Network: network, Port: 80}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	missing := AdmissionRule{}
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing network")
	}

	badPort := AdmissionRule{Network: network, Port: 99999}
	if err := badPort.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}
