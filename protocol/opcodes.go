package protocol

import "fmt"

// Ring command opcodes. Responses echo the request opcode in byte 0.
const (
	OpSetTime            = 0x01
	OpSetUserInfo        = 0x02
	OpGetBattery         = 0x13
	OpGetIdentifier      = 0x22
	OpGetFirmwareVersion = 0x27
)

// ErrorFlag is OR'd into a response opcode when the device rejects the
// request or has no value to report.
const ErrorFlag = 0x80

// OpcodeNames maps opcodes to human-readable names (useful for debugging)
var OpcodeNames = map[uint8]string{
	OpSetTime:            "Set Time",
	OpSetUserInfo:        "Set User Info",
	OpGetBattery:         "Get Battery",
	OpGetIdentifier:      "Get Identifier",
	OpGetFirmwareVersion: "Get Firmware Version",
}

// OpcodeName returns a readable name for op, including the error variant.
func OpcodeName(op byte) string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	if name, ok := OpcodeNames[op&^ErrorFlag]; ok && op&ErrorFlag != 0 {
		return name + " (error)"
	}
	return fmt.Sprintf("Unknown (0x%02X)", op)
}

// ExpectsResponse reports whether the device answers op with a notification.
// Set-time and set-user-info are fire-and-forget.
func ExpectsResponse(op byte) bool {
	switch op {
	case OpGetBattery, OpGetIdentifier, OpGetFirmwareVersion:
		return true
	default:
		return false
	}
}

// ResponseMatches reports whether a notification whose first byte is resp
// answers a request sent with opcode req. Both the plain and the
// error-flagged variant match.
func ResponseMatches(resp, req byte) bool {
	return resp == req || resp == req|ErrorFlag
}

// IsErrorVariant reports whether resp is the error-flagged answer to req.
func IsErrorVariant(resp, req byte) bool {
	return req&ErrorFlag == 0 && resp == req|ErrorFlag
}
