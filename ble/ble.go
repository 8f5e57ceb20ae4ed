// Package ble is the capability surface the ring client needs from a BLE
// central stack. The platform package binds it to real radios and the sim
// package to an in-memory ring.
package ble

import (
	"context"
	"strings"
)

// Properties is the GATT characteristic properties bitmask.
type Properties uint8

const (
	PropBroadcast            Properties = 0x01
	PropRead                 Properties = 0x02
	PropWriteWithoutResponse Properties = 0x04
	PropWrite                Properties = 0x08
	PropNotify               Properties = 0x10
	PropIndicate             Properties = 0x20
)

// Has reports whether every bit in p2 is set.
func (p Properties) Has(p2 Properties) bool { return p&p2 == p2 }

// CanWrite reports write or write-without-response support.
func (p Properties) CanWrite() bool { return p&(PropWrite|PropWriteWithoutResponse) != 0 }

// CanNotify reports notify or indicate support.
func (p Properties) CanNotify() bool { return p&(PropNotify|PropIndicate) != 0 }

func (p Properties) String() string {
	if p == 0 {
		return "unknown"
	}
	names := []struct {
		bit  Properties
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write_without_response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	var out []string
	for _, n := range names {
		if p&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return strings.Join(out, "|")
}

// Peripheral is one discovered advertiser. The ID is the platform's
// opaque handle (a MAC on Linux, a CoreBluetooth UUID on macOS).
type Peripheral struct {
	ID   string
	Name string
	RSSI int
}

// Advertisement is a raw discovery event before filtering.
type Advertisement struct {
	Peripheral
	ServiceUUIDs []UUID
}

// Adapter is the central role of a local radio.
type Adapter interface {
	// Enable powers up the stack; it fails when Bluetooth is off or absent.
	Enable() error

	// Scan reports advertisements until ctx is done. It blocks.
	Scan(ctx context.Context, found func(Advertisement)) error

	// Connect opens a GATT connection, honouring ctx for cancellation.
	Connect(ctx context.Context, p Peripheral) (Conn, error)
}

// Conn is one GATT client connection.
type Conn interface {
	DiscoverServices(ctx context.Context) ([]Service, error)
	Disconnect() error
}

// Service is a discovered primary service.
type Service struct {
	UUID            UUID
	Characteristics []Characteristic
}

// Characteristic is a discovered characteristic value.
type Characteristic interface {
	UUID() UUID

	// Properties may be zero when the platform does not expose them.
	Properties() Properties

	WriteWithoutResponse(p []byte) error

	// EnableNotifications subscribes fn to value notifications. A nil fn
	// unsubscribes.
	EnableNotifications(fn func(value []byte)) error
}

// FindCharacteristic returns the first characteristic in s whose UUID
// contains fragment.
func (s Service) FindCharacteristic(fragment string) (Characteristic, bool) {
	for _, c := range s.Characteristics {
		if c.UUID().MatchesFragment(fragment) {
			return c, true
		}
	}
	return nil, false
}
