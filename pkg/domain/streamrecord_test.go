package domain

import (
	"testing"
	"time"
)

func TestStreamRecord_Validate(t *testing.T) {
	base := func() StreamRecord {
		return StreamRecord{Stream: "logs:raw", SourceID: "s1", Payload: []byte("x")}
	}

	tests := []struct {
		name    string
		mutate  func(r *StreamRecord)
		wantErr bool
	}{
		{"valid", func(r *StreamRecord) {}, false},
		{"missing stream", func(r *StreamRecord) { r.Stream = "" }, true},
		{"missing source", func(r *StreamRecord) { r.SourceID = "" }, true},
		{"empty payload", func(r *StreamRecord) { r.Payload = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPendingEntry_IsStale(t *testing.T) {
	p := PendingEntry{IdleDuration: 5 * time.Second}
	if !p.IsStale(3 * time.Second) {
		t.Error("expected stale")
	}
	if p.IsStale(10 * time.Second) {
		t.Error("expected not stale")
	}
}

func TestNewDeadLetterEntry(t *testing.T) {
	rec := StreamRecord{ID: "1-0", Stream: "logs:raw", SourceID: "s1", Payload: []byte("x")}
	now := time.Now()

	dl := NewDeadLetterEntry(rec, "bad document", now)

	if dl.ID == "" {
		t.Error("expected generated id")
	}
	if dl.OriginalStream != "logs:raw" || dl.OriginalID != "1-0" || dl.SourceID != "s1" {
		t.Error("expected fields copied from original record")
	}
	if dl.Reason != "bad document" {
		t.Errorf("expected reason preserved, got %s", dl.Reason)
	}
	if !dl.DeadLetteredAt.Equal(now) {
		t.Error("expected timestamp preserved")
	}
}

func TestDeadLetterStreamName(t *testing.T) {
	if got := DeadLetterStreamName("logs:raw"); got != "logs:raw:deadletter" {
		t.Errorf("got %s", got)
	}
}
