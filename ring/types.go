package ring

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// State is the client's position in the pairing flow.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateDiscoveringServices
	StateHandshaking
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateHandshaking:
		return "handshaking"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// ConnectionState is the link state recorded in PairedDeviceInfo.
type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// PairedDeviceInfo is the result of a successful handshake. The client does
// not keep it; persisting it is up to the caller. Nil pointer fields mean
// the ring did not report the value.
type PairedDeviceInfo struct {
	DeviceID        string          `json:"device_id"`
	DisplayName     string          `json:"display_name"`
	ConnectionState ConnectionState `json:"connection_state"`
	PairedAt        time.Time       `json:"paired_at"`
	Identifier      *string         `json:"identifier,omitempty"`
	FirmwareVersion *string         `json:"firmware_version,omitempty"`
	BatteryPercent  *int            `json:"battery_percent,omitempty"`
}

// Proto renders the info as a protobuf Struct for document stores and
// protojson logging. Unset telemetry is emitted as null.
func (i *PairedDeviceInfo) Proto() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"device_id":        structpb.NewStringValue(i.DeviceID),
		"display_name":     structpb.NewStringValue(i.DisplayName),
		"connection_state": structpb.NewStringValue(string(i.ConnectionState)),
		"paired_at":        structpb.NewStringValue(i.PairedAt.UTC().Format(time.RFC3339Nano)),
		"identifier":       structpb.NewNullValue(),
		"firmware_version": structpb.NewNullValue(),
		"battery_percent":  structpb.NewNullValue(),
	}
	if i.Identifier != nil {
		fields["identifier"] = structpb.NewStringValue(*i.Identifier)
	}
	if i.FirmwareVersion != nil {
		fields["firmware_version"] = structpb.NewStringValue(*i.FirmwareVersion)
	}
	if i.BatteryPercent != nil {
		fields["battery_percent"] = structpb.NewNumberValue(float64(*i.BatteryPercent))
	}
	return &structpb.Struct{Fields: fields}
}
