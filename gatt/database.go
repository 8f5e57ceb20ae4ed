// Package gatt is a small GATT server attribute table. The simulated ring
// builds its vendor service here and serves discovery, writes and CCCD
// subscriptions from it.
package gatt

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/lumie-health/ringlink/ble"
)

// Attribute types used by the table
var (
	UUIDPrimaryService             = ble.UUID16(0x2800)
	UUIDSecondaryService           = ble.UUID16(0x2801)
	UUIDCharacteristic             = ble.UUID16(0x2803)
	UUIDClientCharacteristicConfig = ble.UUID16(0x2902) // CCCD
)

// Server-side permission bits.
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// ErrInvalidHandle is returned for handles outside the table.
var ErrInvalidHandle = errors.New("gatt: invalid handle")

// Attribute is one row of the table.
type Attribute struct {
	Handle      uint16
	Type        ble.UUID
	Value       []byte
	Permissions uint8
}

func (a Attribute) clone() *Attribute {
	a.Value = bytes.Clone(a.Value)
	return &a
}

// AttributeDatabase is an append-only attribute table. Handles are dense
// and start at 0x0001, so row i holds handle i+1.
type AttributeDatabase struct {
	mu   sync.RWMutex
	rows []Attribute
}

func NewAttributeDatabase() *AttributeDatabase {
	return &AttributeDatabase{}
}

// AddAttribute appends an attribute and returns its handle.
func (db *AttributeDatabase) AddAttribute(attrType ble.UUID, value []byte, permissions uint8) uint16 {
	db.mu.Lock()
	defer db.mu.Unlock()
	h := uint16(len(db.rows) + 1)
	db.rows = append(db.rows, Attribute{
		Handle:      h,
		Type:        attrType,
		Value:       bytes.Clone(value),
		Permissions: permissions,
	})
	return h
}

func (db *AttributeDatabase) row(handle uint16) (*Attribute, error) {
	if handle == 0 || int(handle) > len(db.rows) {
		return nil, fmt.Errorf("%w 0x%04X", ErrInvalidHandle, handle)
	}
	return &db.rows[handle-1], nil
}

// GetAttribute returns a copy of the attribute at handle.
func (db *AttributeDatabase) GetAttribute(handle uint16) (*Attribute, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	a, err := db.row(handle)
	if err != nil {
		return nil, err
	}
	return a.clone(), nil
}

func (db *AttributeDatabase) SetAttributeValue(handle uint16, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, err := db.row(handle)
	if err != nil {
		return err
	}
	a.Value = bytes.Clone(value)
	return nil
}

// FindAttributesByType returns handles of attrType within [start, end], ascending.
func (db *AttributeDatabase) FindAttributesByType(start, end uint16, attrType ble.UUID) []uint16 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if start == 0 {
		start = 1
	}
	var handles []uint16
	for i := int(start) - 1; i < len(db.rows) && i < int(end); i++ {
		if db.rows[i].Type == attrType {
			handles = append(handles, db.rows[i].Handle)
		}
	}
	return handles
}

// LastHandle returns the highest assigned handle, 0 when empty.
func (db *AttributeDatabase) LastHandle() uint16 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return uint16(len(db.rows))
}

func (db *AttributeDatabase) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.rows)
}
