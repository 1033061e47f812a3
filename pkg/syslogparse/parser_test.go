package syslogparse

import (
	"testing"

	"ingestpipe/pkg/domain"
)

func TestParse_RFC5424_RoundTrip(t *testing.T) {
	// facility=local0 (16), severity=info (6) -> pri = 16*8+6 = 134
	datagram := []byte(`<134>1 2026-07-29T10:00:00.000Z h a 1234 - - m`)

	event, err := Parse(datagram, "fallback-host")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Level != domain.LevelInfo {
		t.Errorf("expected LevelInfo, got %v", event.Level)
	}
	if event.Host != "h" {
		t.Errorf("expected host 'h', got %q", event.Host)
	}
	if event.Service != "a" {
		t.Errorf("expected service 'a', got %q", event.Service)
	}
	if event.Message != "m" {
		t.Errorf("expected message 'm', got %q", event.Message)
	}
}

func TestParse_RFC5424_WithStructuredData(t *testing.T) {
	datagram := []byte(`<13>1 2026-07-29T10:00:00Z myhost myapp - - [exampleSDID@32473 iut="3"] hello world`)

	event, err := Parse(datagram, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Message != "hello world" {
		t.Errorf("expected structured data to be stripped, got %q", event.Message)
	}
}

func TestParse_RFC3164_RoundTrip(t *testing.T) {
	datagram := []byte(`<34>Oct 11 22:14:15 myhost sshd[1234]: connection closed`)

	event, err := Parse(datagram, "fallback-host")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Host != "myhost" {
		t.Errorf("expected host 'myhost', got %q", event.Host)
	}
	if event.Service != "sshd" {
		t.Errorf("expected service 'sshd', got %q", event.Service)
	}
	if event.Message != "connection closed" {
		t.Errorf("expected message 'connection closed', got %q", event.Message)
	}
	// facility=4 (34/8), severity=2 (34%8) -> critical -> mapped to fatal.
	if event.Level != domain.LevelFatal {
		t.Errorf("expected LevelFatal for severity 2, got %v", event.Level)
	}
}

func TestParse_MissingPriorityHeader(t *testing.T) {
	_, err := Parse([]byte("not a syslog line"), "h")
	if err == nil {
		t.Fatal("expected an error for a missing <PRI> header")
	}
}

func TestParse_MalformedPriorityHeader(t *testing.T) {
	_, err := Parse([]byte("<999>hello"), "h")
	if err == nil {
		t.Fatal("expected an error for an out-of-range priority")
	}
}

func TestSeverityToLevel_Mapping(t *testing.T) {
	cases := []struct {
		severity int
		expected domain.LogLevel
	}{
		{0, domain.LevelFatal},
		{3, domain.LevelError},
		{4, domain.LevelWarn},
		{5, domain.LevelInfo},
		{6, domain.LevelInfo},
		{7, domain.LevelDebug},
	}
	for _, tc := range cases {
		if got := severityToLevel(tc.severity); got != tc.expected {
			t.Errorf("severity %d: expected %v, got %v", tc.severity, tc.expected, got)
		}
	}
}
