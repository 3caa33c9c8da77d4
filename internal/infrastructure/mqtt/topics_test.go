package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	if got := topics.Telemetry("reg-1"); got != "fleetgate/telemetry/reg-1" {
		t.Errorf("Telemetry() = %q", got)
	}
	if got := topics.Status("reg-1"); got != "fleetgate/status/reg-1" {
		t.Errorf("Status() = %q", got)
	}
	if got := topics.AllTelemetry(); got != "fleetgate/telemetry/+" {
		t.Errorf("AllTelemetry() = %q", got)
	}
	if got := topics.AllStatus(); got != "fleetgate/status/+" {
		t.Errorf("AllStatus() = %q", got)
	}
	if got := topics.SystemStatus(); got != "fleetgate/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
}

func TestRegulatorIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"fleetgate/telemetry/reg-1", "reg-1"},
		{"fleetgate/status/reg-2", "reg-2"},
		{"fleetgate/system/status", ""},
		{"other/telemetry/reg-1", ""},
		{"fleetgate/telemetry", ""},
		{"fleetgate/telemetry/reg-1/extra", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RegulatorIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("RegulatorIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
