package gatt

import (
	"encoding/binary"
	"fmt"

	"github.com/lumie-health/ringlink/ble"
)

// Service represents a high-level GATT service definition
type Service struct {
	UUID            ble.UUID
	Primary         bool
	Characteristics []Characteristic
}

// Characteristic represents a high-level GATT characteristic definition
type Characteristic struct {
	UUID       ble.UUID
	Properties ble.Properties
	Value      []byte
}

// ServiceInfo stores the handle range and characteristic handles of a built service
type ServiceInfo struct {
	UUID        ble.UUID
	StartHandle uint16
	EndHandle   uint16
	Chars       []CharInfo
}

// CharInfo stores the handles of one built characteristic
type CharInfo struct {
	UUID              ble.UUID
	Properties        ble.Properties
	DeclarationHandle uint16
	ValueHandle       uint16
	CCCDHandle        uint16 // 0 unless notify or indicate is set
}

// FindChar returns the characteristic with the given UUID.
func (s *ServiceInfo) FindChar(u ble.UUID) (CharInfo, error) {
	for _, c := range s.Chars {
		if c.UUID == u {
			return c, nil
		}
	}
	return CharInfo{}, fmt.Errorf("gatt: characteristic %s not found in service %s", u, s.UUID)
}

// BuildAttributeDatabase converts service definitions into an attribute table
func BuildAttributeDatabase(services []Service) (*AttributeDatabase, []*ServiceInfo) {
	db := NewAttributeDatabase()
	infos := make([]*ServiceInfo, 0, len(services))
	for _, svc := range services {
		infos = append(infos, buildService(db, svc))
	}
	return db, infos
}

func buildService(db *AttributeDatabase, svc Service) *ServiceInfo {
	declType := UUIDSecondaryService
	if svc.Primary {
		declType = UUIDPrimaryService
	}

	info := &ServiceInfo{UUID: svc.UUID}
	info.StartHandle = db.AddAttribute(declType, svc.UUID.Bytes(), PermReadable)

	for _, c := range svc.Characteristics {
		info.Chars = append(info.Chars, buildCharacteristic(db, c))
	}

	info.EndHandle = db.LastHandle()
	return info
}

// buildCharacteristic adds the declaration, value and, for notifying
// characteristics, a CCCD.
//
// Declaration value: [Properties: 1][Value Handle: 2 LE][UUID: 16]
func buildCharacteristic(db *AttributeDatabase, c Characteristic) CharInfo {
	info := CharInfo{UUID: c.UUID, Properties: c.Properties}

	decl := make([]byte, 3, 3+16)
	decl[0] = byte(c.Properties)
	binary.LittleEndian.PutUint16(decl[1:3], db.LastHandle()+2)
	decl = append(decl, c.UUID.Bytes()...)
	info.DeclarationHandle = db.AddAttribute(UUIDCharacteristic, decl, PermReadable)

	info.ValueHandle = db.AddAttribute(c.UUID, c.Value, determinePermissions(c.Properties))

	if c.Properties.CanNotify() {
		info.CCCDHandle = db.AddAttribute(UUIDClientCharacteristicConfig,
			EncodeCCCDValue(false, false), PermReadable|PermWritable)
	}
	return info
}

func determinePermissions(p ble.Properties) uint8 {
	var perms uint8
	if p&ble.PropRead != 0 {
		perms |= PermReadable
	}
	if p.CanWrite() {
		perms |= PermWritable
	}
	return perms
}

// DiscoverServices walks the table the way a client's primary service
// discovery would and returns what it found.
func DiscoverServices(db *AttributeDatabase) ([]*ServiceInfo, error) {
	last := db.LastHandle()
	declHandles := db.FindAttributesByType(0x0001, last, UUIDPrimaryService)

	services := make([]*ServiceInfo, 0, len(declHandles))
	for i, h := range declHandles {
		decl, err := db.GetAttribute(h)
		if err != nil {
			return nil, err
		}
		svcUUID, err := ble.FromBytes(decl.Value)
		if err != nil {
			return nil, fmt.Errorf("gatt: service declaration 0x%04X: %w", h, err)
		}

		end := last
		if i+1 < len(declHandles) {
			end = declHandles[i+1] - 1
		}
		info := &ServiceInfo{UUID: svcUUID, StartHandle: h, EndHandle: end}

		chars, err := discoverCharacteristics(db, h, end)
		if err != nil {
			return nil, err
		}
		info.Chars = chars
		services = append(services, info)
	}
	return services, nil
}

func discoverCharacteristics(db *AttributeDatabase, start, end uint16) ([]CharInfo, error) {
	declHandles := db.FindAttributesByType(start, end, UUIDCharacteristic)
	chars := make([]CharInfo, 0, len(declHandles))

	for i, h := range declHandles {
		decl, err := db.GetAttribute(h)
		if err != nil {
			return nil, err
		}
		if len(decl.Value) != 3+16 {
			return nil, fmt.Errorf("gatt: characteristic declaration 0x%04X has %d bytes", h, len(decl.Value))
		}
		u, err := ble.FromBytes(decl.Value[3:])
		if err != nil {
			return nil, err
		}
		ci := CharInfo{
			UUID:              u,
			Properties:        ble.Properties(decl.Value[0]),
			DeclarationHandle: h,
			ValueHandle:       binary.LittleEndian.Uint16(decl.Value[1:3]),
		}

		charEnd := end
		if i+1 < len(declHandles) {
			charEnd = declHandles[i+1] - 1
		}
		if cccd := db.FindAttributesByType(ci.ValueHandle+1, charEnd, UUIDClientCharacteristicConfig); len(cccd) > 0 {
			ci.CCCDHandle = cccd[0]
		}
		chars = append(chars, ci)
	}
	return chars, nil
}

// NewGenericAccessService creates the mandatory Generic Access service (0x1800)
func NewGenericAccessService(deviceName string) Service {
	return Service{
		UUID:    ble.UUID16(0x1800),
		Primary: true,
		Characteristics: []Characteristic{
			{
				UUID:       ble.UUID16(0x2A00), // Device Name
				Properties: ble.PropRead,
				Value:      []byte(deviceName),
			},
		},
	}
}
