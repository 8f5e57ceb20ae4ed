package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Step length heuristic bounds. The ring never reports step length; it is
// derived on the client from height and pushed in the user-info command.
const (
	StepLengthFactor = 0.415
	MinStepLengthCm  = 50
	MaxStepLengthCm  = 100
)

// StepLength estimates stride length in cm as round(height*0.415), clamped
// to [50,100]. This is a local default, not device telemetry.
func StepLength(heightCm int) int {
	v := int(math.Round(float64(heightCm) * StepLengthFactor))
	return clamp(v, MinStepLengthCm, MaxStepLengthCm)
}

// BCDToDecimal decodes one packed BCD byte: high nibble tens, low nibble units.
func BCDToDecimal(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}

// DecodeBattery extracts the battery percentage from a 0x13 response.
func DecodeBattery(resp []byte) (int, error) {
	if err := checkResponse(resp, OpGetBattery, 1); err != nil {
		return 0, err
	}
	return clamp(int(resp[1]), 0, 100), nil
}

// DecodeFirmwareVersion renders the four BCD bytes of a 0x27 response as
// a dotted version, e.g. 01 02 10 05 -> "1.2.10.5".
func DecodeFirmwareVersion(resp []byte) (string, error) {
	if err := checkResponse(resp, OpGetFirmwareVersion, 4); err != nil {
		return "", err
	}
	parts := make([]string, 4)
	for i := 0; i < 4; i++ {
		parts[i] = strconv.Itoa(BCDToDecimal(resp[1+i]))
	}
	return strings.Join(parts, "."), nil
}

// DecodeIdentifier renders the six raw bytes of a 0x22 response as
// colon-separated uppercase hex.
func DecodeIdentifier(resp []byte) (string, error) {
	if err := checkResponse(resp, OpGetIdentifier, 6); err != nil {
		return "", err
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = fmt.Sprintf("%02X", resp[1+i])
	}
	return strings.Join(parts, ":"), nil
}

// checkResponse separates "device said error" from "value is zero".
func checkResponse(resp []byte, op byte, fieldLen int) error {
	if len(resp) == 0 {
		return fmt.Errorf("%w: empty response to %s", ErrShortResponse, OpcodeName(op))
	}
	switch resp[0] {
	case op:
	case op | ErrorFlag:
		return fmt.Errorf("%w: %s", ErrDeviceError, OpcodeName(op))
	default:
		return fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrUnexpectedOpcode, resp[0], op)
	}
	if len(resp) < 1+fieldLen {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortResponse, OpcodeName(op), 1+fieldLen, len(resp))
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
