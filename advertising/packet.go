// Package advertising encodes and decodes legacy BLE advertising data
// (AD structures). The simulated ring broadcasts through it and the sim
// adapter parses names and service UUIDs back out of it.
package advertising

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lumie-health/ringlink/ble"
)

// AD types carried by ring advertisements.
const (
	ADTypeFlags                       = 0x01
	ADTypeIncomplete16BitServiceUUIDs = 0x02
	ADTypeComplete16BitServiceUUIDs   = 0x03
	ADTypeShortenedLocalName          = 0x08
	ADTypeCompleteLocalName           = 0x09
	ADTypeTxPowerLevel                = 0x0A
	ADTypeManufacturerSpecificData    = 0xFF
)

// Bits of the flags AD.
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// MaxAdvertisingDataLen is the legacy advertising payload limit.
const MaxAdvertisingDataLen = 31

// ADStructure is one length-type-value element of an advertising payload.
// Its length byte counts the type byte plus Data.
type ADStructure struct {
	Type byte
	Data []byte
}

func (s ADStructure) appendTo(buf []byte) ([]byte, error) {
	n := len(s.Data) + 1
	if n > 0xFF {
		return nil, fmt.Errorf("advertising: AD type 0x%02X is %d bytes long (max 255)", s.Type, n)
	}
	buf = append(buf, byte(n), s.Type)
	return append(buf, s.Data...), nil
}

// EncodeADStructures concatenates structures into one payload that fits a
// legacy advertisement.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	buf := make([]byte, 0, MaxAdvertisingDataLen)
	for _, s := range structures {
		var err error
		if buf, err = s.appendTo(buf); err != nil {
			return nil, err
		}
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("advertising: %d byte payload does not fit in %d", len(buf), MaxAdvertisingDataLen)
	}
	return buf, nil
}

// DecodeADStructures splits a payload into its structures. A zero length
// byte marks trailing padding and ends the walk.
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var out []ADStructure
	for rest := data; len(rest) > 0 && rest[0] != 0; {
		n := int(rest[0])
		if n >= len(rest) {
			return nil, fmt.Errorf("advertising: AD structure length %d exceeds remaining %d bytes", n, len(rest)-1)
		}
		out = append(out, ADStructure{Type: rest[1], Data: bytes.Clone(rest[2 : n+1])})
		rest = rest[n+1:]
	}
	return out, nil
}

func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{ADTypeFlags, []byte{flags}}
}

func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{ADTypeCompleteLocalName, []byte(name)}
}

// NewComplete16BitServiceUUIDsAD lists 16-bit service UUIDs, little endian.
func NewComplete16BitServiceUUIDsAD(uuids []uint16) ADStructure {
	var data []byte
	for _, u := range uuids {
		data = binary.LittleEndian.AppendUint16(data, u)
	}
	return ADStructure{ADTypeComplete16BitServiceUUIDs, data}
}

func NewTxPowerLevelAD(dBm int8) ADStructure {
	return ADStructure{ADTypeTxPowerLevel, []byte{byte(dBm)}}
}

// Report is the decoded subset of an advertisement the scanner cares about.
type Report struct {
	LocalName    string
	ServiceUUIDs []ble.UUID
	TxPower      *int8
}

// ErrEmptyPayload is returned by Parse for an empty advertisement.
var ErrEmptyPayload = errors.New("advertising: empty payload")

// Parse decodes a raw advertising payload into a Report. A complete local
// name wins over a shortened one.
func Parse(data []byte) (*Report, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	structures, err := DecodeADStructures(data)
	if err != nil {
		return nil, err
	}

	r := &Report{}
	for _, s := range structures {
		switch s.Type {
		case ADTypeCompleteLocalName:
			r.LocalName = string(s.Data)
		case ADTypeShortenedLocalName:
			if r.LocalName == "" {
				r.LocalName = string(s.Data)
			}
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			if len(s.Data)%2 != 0 {
				return nil, fmt.Errorf("advertising: odd-length 16-bit UUID list (%d bytes)", len(s.Data))
			}
			for i := 0; i < len(s.Data); i += 2 {
				r.ServiceUUIDs = append(r.ServiceUUIDs, ble.UUID16(binary.LittleEndian.Uint16(s.Data[i:])))
			}
		case ADTypeTxPowerLevel:
			if len(s.Data) == 1 {
				p := int8(s.Data[0])
				r.TxPower = &p
			}
		}
	}
	return r, nil
}
