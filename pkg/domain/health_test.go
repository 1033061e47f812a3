package domain

import "testing"

func TestHealthSnapshot_Overall(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentHealth
		want       ComponentStatus
	}{
		{
			"all ok",
			map[string]ComponentHealth{"queue": {Status: StatusOK}, "sinks": {Status: StatusOK}},
			StatusOK,
		},
		{
			"one degraded",
			map[string]ComponentHealth{"queue": {Status: StatusOK}, "sinks": {Status: StatusDegraded}},
			StatusDegraded,
		},
		{
			"one down wins over degraded",
			map[string]ComponentHealth{"queue": {Status: StatusDown}, "sinks": {Status: StatusDegraded}},
			StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HealthSnapshot{Components: tt.components}
			if got := h.Overall(); got != tt.want {
				t.Errorf("Overall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComponentStatus_String(t *testing.T) {
	tests := []struct {
		status ComponentStatus
		want   string
	}{
		{StatusOK, "ok"},
		{StatusDegraded, "degraded"},
		{StatusDown, "down"},
		{StatusUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}
