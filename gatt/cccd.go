package gatt

import (
	"encoding/binary"
	"errors"
	"sync"
)

// Client Characteristic Configuration bits.
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
)

// ErrInvalidCCCDLength is returned when a CCCD value is not 2 bytes.
var ErrInvalidCCCDLength = errors.New("gatt: invalid CCCD value length")

// CCCDManager holds the configuration value a connected central last wrote
// to each characteristic's CCCD, keyed by value handle. Handles whose value
// is zero are not stored.
type CCCDManager struct {
	mu     sync.RWMutex
	config map[uint16]uint16
}

func NewCCCDManager() *CCCDManager {
	return &CCCDManager{config: map[uint16]uint16{}}
}

// SetSubscription applies a CCCD write for charHandle.
func (cm *CCCDManager) SetSubscription(charHandle uint16, cccdValue []byte) error {
	if len(cccdValue) != 2 {
		return ErrInvalidCCCDLength
	}
	v := binary.LittleEndian.Uint16(cccdValue) & (CCCDNotificationsEnabled | CCCDIndicationsEnabled)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if v == CCCDNotificationsDisabled {
		delete(cm.config, charHandle)
		return nil
	}
	cm.config[charHandle] = v
	return nil
}

func (cm *CCCDManager) value(charHandle uint16) uint16 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config[charHandle]
}

// IsNotifyEnabled reports whether the notification bit is set for charHandle.
func (cm *CCCDManager) IsNotifyEnabled(charHandle uint16) bool {
	return cm.value(charHandle)&CCCDNotificationsEnabled != 0
}

// IsSubscribed reports whether either bit is set.
func (cm *CCCDManager) IsSubscribed(charHandle uint16) bool {
	return cm.value(charHandle) != 0
}

func (cm *CCCDManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.config)
}

// Clear drops every subscription. The simulator calls it on disconnect.
func (cm *CCCDManager) Clear() {
	cm.mu.Lock()
	clear(cm.config)
	cm.mu.Unlock()
}

// EncodeCCCDValue returns the 2-byte little-endian CCCD value for the flags.
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var v uint16
	if notifyEnabled {
		v |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		v |= CCCDIndicationsEnabled
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// DecodeCCCDValue splits a CCCD value into its notify and indicate flags.
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled bool, err error) {
	if len(cccdValue) != 2 {
		return false, false, ErrInvalidCCCDLength
	}
	v := binary.LittleEndian.Uint16(cccdValue)
	return v&CCCDNotificationsEnabled != 0, v&CCCDIndicationsEnabled != 0, nil
}
