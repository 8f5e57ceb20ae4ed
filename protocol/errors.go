package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameLength is returned when a frame is not exactly FrameSize bytes.
	ErrFrameLength = errors.New("protocol: invalid frame length")

	// ErrShortResponse is returned when a response is too short for its field.
	ErrShortResponse = errors.New("protocol: response too short")

	// ErrDeviceError is returned when the ring answered with the error-flagged opcode.
	ErrDeviceError = errors.New("protocol: device reported error")

	// ErrUnexpectedOpcode is returned when a decoder is handed another command's response.
	ErrUnexpectedOpcode = errors.New("protocol: unexpected response opcode")

	// ErrNoResponse is delivered when a pending request times out.
	ErrNoResponse = errors.New("protocol: no response from device")

	// ErrRequestPending is returned when a second request is registered while
	// one is outstanding. The ring does not multiplex responses.
	ErrRequestPending = errors.New("protocol: request already pending")

	// ErrCancelled is delivered to a pending request torn down by disconnect.
	ErrCancelled = errors.New("protocol: request cancelled")
)

// ChecksumError indicates a frame whose trailing byte is not the sum of the rest.
type ChecksumError struct {
	Opcode   byte
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("protocol: checksum mismatch for opcode 0x%02X: expected 0x%02X, got 0x%02X",
		e.Opcode, e.Expected, e.Actual)
}

// RequestPendingError reports the request that blocked a new one.
type RequestPendingError struct {
	Pending   byte
	Requested byte
}

func (e *RequestPendingError) Error() string {
	return fmt.Sprintf("protocol: request 0x%02X rejected, 0x%02X (%s) still pending",
		e.Requested, e.Pending, OpcodeName(e.Pending))
}

func (e *RequestPendingError) Unwrap() error { return ErrRequestPending }

// ProfileError indicates a user profile field the ring cannot store.
type ProfileError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("protocol: profile %s=%d out of range %d-%d", e.Field, e.Value, e.Min, e.Max)
}
