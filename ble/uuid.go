package ble

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UUID is a 128-bit GATT attribute type. 16-bit SIG aliases are expanded
// onto the Bluetooth base UUID.
type UUID struct {
	u uuid.UUID
}

// baseUUID is 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit alias, e.g. 0xFFF0 -> 0000fff0-0000-1000-8000-00805f9b34fb.
func UUID16(short uint16) UUID {
	u := baseUUID
	binary.BigEndian.PutUint16(u[2:4], short)
	return UUID{u: u}
}

// ParseUUID accepts a full 128-bit string or a 4-hex-digit alias.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		var short uint16
		if _, err := fmt.Sscanf(s, "%04x", &short); err != nil {
			return UUID{}, fmt.Errorf("ble: invalid 16-bit uuid %q: %w", s, err)
		}
		return UUID16(short), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("ble: invalid uuid %q: %w", s, err)
	}
	return UUID{u: u}, nil
}

// MustParseUUID is ParseUUID for constants.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// FromBytes builds a UUID from its 16 big-endian bytes.
func FromBytes(b []byte) (UUID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return UUID{}, fmt.Errorf("ble: %w", err)
	}
	return UUID{u: u}, nil
}

// Bytes returns the 16 big-endian bytes.
func (u UUID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, u.u[:])
	return b
}

// Short returns the 16-bit alias and whether u sits on the base UUID.
func (u UUID) Short() (uint16, bool) {
	v := u.u
	alias := binary.BigEndian.Uint16(v[2:4])
	v[2], v[3] = 0, 0
	return alias, v == baseUUID
}

// MatchesFragment reports whether the lowercase string form contains
// fragment. Vendor firmware revisions move the service between base UUIDs,
// so characteristics are located by their distinctive fragment.
func (u UUID) MatchesFragment(fragment string) bool {
	if fragment == "" {
		return false
	}
	return strings.Contains(u.String(), strings.ToLower(fragment))
}

// IsZero reports whether u is the nil UUID.
func (u UUID) IsZero() bool { return u.u == uuid.Nil }

func (u UUID) String() string { return u.u.String() }
