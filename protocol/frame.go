package protocol

import (
	"fmt"
	"strings"
)

// Frame layout constants.
const (
	FrameSize   = 16
	PayloadSize = FrameSize - 2 // opcode and checksum excluded

	checksumIndex = FrameSize - 1
)

// Frame is one fixed-size command or response.
//
//	[OPCODE][PAYLOAD(14), zero padded][CHECKSUM]
//
// CHECKSUM is the sum of bytes 0..14 truncated to 8 bits.
type Frame [FrameSize]byte

// Encode builds a frame for opcode with payload left-packed after it.
// A payload longer than PayloadSize is a caller bug and panics.
func Encode(opcode byte, payload []byte) Frame {
	if len(payload) > PayloadSize {
		panic(fmt.Sprintf("protocol: payload for opcode 0x%02X is %d bytes, max %d", opcode, len(payload), PayloadSize))
	}

	var f Frame
	f[0] = opcode
	copy(f[1:checksumIndex], payload)
	f[checksumIndex] = Checksum(f[:checksumIndex])
	return f
}

// Checksum returns the unsigned 8-bit wraparound sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// VerifyChecksum checks a received or outbound frame and returns its payload.
// Notifications from the ring are not checksummed, so the read path does not
// call this; it guards outbound frames in tests and inbound frames in the
// simulator.
func VerifyChecksum(frame []byte) ([]byte, error) {
	if len(frame) != FrameSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrFrameLength, len(frame))
	}
	want := Checksum(frame[:checksumIndex])
	if got := frame[checksumIndex]; got != want {
		return nil, &ChecksumError{Opcode: frame[0], Expected: want, Actual: got}
	}
	payload := make([]byte, PayloadSize)
	copy(payload, frame[1:checksumIndex])
	return payload, nil
}

// Opcode returns byte 0.
func (f Frame) Opcode() byte { return f[0] }

// Payload returns a copy of the 14 payload bytes.
func (f Frame) Payload() []byte {
	p := make([]byte, PayloadSize)
	copy(p, f[1:checksumIndex])
	return p
}

// Bytes returns a copy of the frame suitable for a characteristic write.
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	copy(b, f[:])
	return b
}

func (f Frame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [", OpcodeName(f[0]))
	for i, b := range f {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte(']')
	return sb.String()
}
