package ring

import (
	"errors"
	"fmt"

	"github.com/lumie-health/ringlink/protocol"
)

var (
	// ErrBluetoothUnavailable matches every *DiscoveryError via errors.Is.
	ErrBluetoothUnavailable = errors.New("ring: bluetooth unavailable")

	ErrScanInProgress   = errors.New("ring: scan already in progress")
	ErrBusy             = errors.New("ring: another operation is in progress")
	ErrAlreadyConnected = errors.New("ring: already connected, disconnect first")
	ErrNotPaired        = errors.New("ring: not paired")
	ErrDisconnected     = errors.New("ring: disconnected during pairing")
)

// DiscoveryError indicates the radio is off, unauthorized or absent.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("ring: bluetooth unavailable: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

func (e *DiscoveryError) Is(target error) bool { return target == ErrBluetoothUnavailable }

// ConnectionError indicates the ring could not be reached or the link
// failed before the handshake completed. Callers may retry.
type ConnectionError struct {
	DeviceID string
	Stage    string // "connect", "discover", "subscribe", "handshake"
	Timeout  bool
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("ring: %s %s timed out: %v", e.Stage, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("ring: %s %s failed: %v", e.Stage, e.DeviceID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolMismatchError indicates the peripheral lacks the vendor service
// or one of its characteristics. Retrying the same peripheral will not help.
type ProtocolMismatchError struct {
	DeviceID string
	Missing  string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("ring: %s does not speak the ring protocol: missing %s", e.DeviceID, e.Missing)
}

// TelemetryUnavailableError reports a best-effort read that produced no
// value. During pairing it is logged and the field left unset.
type TelemetryUnavailableError struct {
	Field  string
	Opcode byte
	Err    error
}

func (e *TelemetryUnavailableError) Error() string {
	return fmt.Sprintf("ring: %s unavailable (%s): %v", e.Field, protocol.OpcodeName(e.Opcode), e.Err)
}

func (e *TelemetryUnavailableError) Unwrap() error { return e.Err }

// Failure reasons reported to the UI layer.
const (
	ReasonBluetoothUnavailable = "bluetooth_unavailable"
	ReasonUnreachable          = "unreachable"
	ReasonWrongDevice          = "wrong_device"
	ReasonInvalidProfile       = "invalid_profile"
	ReasonBusy                 = "busy"
	ReasonUnknown              = "unknown"
)

// FailureReason classifies a pairing or scan error for display.
func FailureReason(err error) string {
	var (
		mismatch *ProtocolMismatchError
		connErr  *ConnectionError
		profile  *protocol.ProfileError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBluetoothUnavailable):
		return ReasonBluetoothUnavailable
	case errors.As(err, &mismatch):
		return ReasonWrongDevice
	case errors.As(err, &connErr):
		return ReasonUnreachable
	case errors.As(err, &profile):
		return ReasonInvalidProfile
	case errors.Is(err, ErrBusy), errors.Is(err, ErrScanInProgress), errors.Is(err, ErrAlreadyConnected):
		return ReasonBusy
	default:
		return ReasonUnknown
	}
}
