package ring

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lumie-health/ringlink/protocol"
)

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"radio off", &DiscoveryError{Err: errors.New("powered off")}, ReasonBluetoothUnavailable},
		{"wrapped radio off", fmt.Errorf("scan: %w", &DiscoveryError{Err: errors.New("x")}), ReasonBluetoothUnavailable},
		{"mismatch", &ProtocolMismatchError{DeviceID: "d", Missing: "service fff0"}, ReasonWrongDevice},
		{"connect", &ConnectionError{DeviceID: "d", Stage: "connect", Err: errors.New("refused")}, ReasonUnreachable},
		{"profile", &protocol.ProfileError{Field: "age", Value: 0, Min: 1, Max: 120}, ReasonInvalidProfile},
		{"busy", ErrBusy, ReasonBusy},
		{"scanning", ErrScanInProgress, ReasonBusy},
		{"other", errors.New("boom"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureReason(tt.err); got != tt.want {
				t.Errorf("FailureReason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	timeout := &ConnectionError{DeviceID: "AA:BB", Stage: "connect", Timeout: true, Err: errors.New("deadline")}
	if !strings.Contains(timeout.Error(), "timed out") {
		t.Errorf("timeout message = %q", timeout.Error())
	}

	tel := &TelemetryUnavailableError{Field: "battery", Opcode: protocol.OpGetBattery, Err: protocol.ErrNoResponse}
	if !strings.Contains(tel.Error(), "Get Battery") || !errors.Is(tel, protocol.ErrNoResponse) {
		t.Errorf("telemetry error = %q", tel.Error())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected:        "disconnected",
		StateConnecting:          "connecting",
		StateDiscoveringServices: "discovering_services",
		StateHandshaking:         "handshaking",
		StatePaired:              "paired",
		State(42):                "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestPairedDeviceInfoProto(t *testing.T) {
	fw := "1.2.10.5"
	info := &PairedDeviceInfo{
		DeviceID:        "C4:7C:8D:6A:01:2F",
		DisplayName:     "JCRing-01",
		ConnectionState: Connected,
		PairedAt:        time.Date(2024, 3, 9, 14, 5, 30, 0, time.UTC),
		FirmwareVersion: &fw,
		BatteryPercent:  intPtr(87),
	}

	m := info.Proto().AsMap()
	if m["device_id"] != "C4:7C:8D:6A:01:2F" || m["connection_state"] != "connected" {
		t.Errorf("Proto = %v", m)
	}
	if m["paired_at"] != "2024-03-09T14:05:30Z" {
		t.Errorf("paired_at = %v", m["paired_at"])
	}
	if m["firmware_version"] != "1.2.10.5" || m["battery_percent"] != float64(87) {
		t.Errorf("telemetry = %v %v", m["firmware_version"], m["battery_percent"])
	}
	if v, ok := m["identifier"]; !ok || v != nil {
		t.Errorf("unset identifier = %v (present %v), want null", v, ok)
	}
}
