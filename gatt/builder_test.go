package gatt

import (
	"testing"

	"github.com/lumie-health/ringlink/ble"
)

func ringServices() []Service {
	return []Service{
		NewGenericAccessService("Test Ring"),
		{
			UUID:    ble.UUID16(0xFFF0),
			Primary: true,
			Characteristics: []Characteristic{
				{UUID: ble.UUID16(0xFFF6), Properties: ble.PropWrite | ble.PropWriteWithoutResponse},
				{UUID: ble.UUID16(0xFFF7), Properties: ble.PropNotify},
			},
		},
	}
}

func TestBuildAttributeDatabase(t *testing.T) {
	db, infos := BuildAttributeDatabase(ringServices())

	if len(infos) != 2 {
		t.Fatalf("expected 2 service infos, got %d", len(infos))
	}

	// GAP: decl + char decl + value = 3
	// Vendor: decl + (decl + value) + (decl + value + CCCD) = 6
	if db.Count() != 9 {
		t.Errorf("Count() = %d, want 9", db.Count())
	}

	vendor := infos[1]
	if vendor.StartHandle != 4 || vendor.EndHandle != 9 {
		t.Errorf("vendor handle range 0x%04X-0x%04X, want 0x0004-0x0009", vendor.StartHandle, vendor.EndHandle)
	}

	write, err := vendor.FindChar(ble.UUID16(0xFFF6))
	if err != nil {
		t.Fatalf("FindChar(write): %v", err)
	}
	if write.CCCDHandle != 0 {
		t.Error("write characteristic should have no CCCD")
	}

	notify, err := vendor.FindChar(ble.UUID16(0xFFF7))
	if err != nil {
		t.Fatalf("FindChar(notify): %v", err)
	}
	if notify.CCCDHandle != notify.ValueHandle+1 {
		t.Errorf("CCCD handle 0x%04X, want value handle + 1", notify.CCCDHandle)
	}

	attr, err := db.GetAttribute(notify.CCCDHandle)
	if err != nil {
		t.Fatalf("GetAttribute(CCCD): %v", err)
	}
	if attr.Type != UUIDClientCharacteristicConfig {
		t.Errorf("CCCD attribute type %s", attr.Type)
	}

	if _, err := vendor.FindChar(ble.UUID16(0x2A19)); err == nil {
		t.Error("expected error for missing characteristic")
	}
}

func TestDiscoverServicesMatchesBuild(t *testing.T) {
	db, built := BuildAttributeDatabase(ringServices())

	found, err := DiscoverServices(db)
	if err != nil {
		t.Fatalf("DiscoverServices: %v", err)
	}
	if len(found) != len(built) {
		t.Fatalf("discovered %d services, built %d", len(found), len(built))
	}

	for i := range built {
		b, f := built[i], found[i]
		if b.UUID != f.UUID || b.StartHandle != f.StartHandle || b.EndHandle != f.EndHandle {
			t.Errorf("service %d: built %+v, discovered %+v", i, b, f)
		}
		if len(b.Chars) != len(f.Chars) {
			t.Fatalf("service %d: built %d chars, discovered %d", i, len(b.Chars), len(f.Chars))
		}
		for j := range b.Chars {
			if b.Chars[j] != f.Chars[j] {
				t.Errorf("service %d char %d: built %+v, discovered %+v", i, j, b.Chars[j], f.Chars[j])
			}
		}
	}
}

func TestAttributeValueIsCopied(t *testing.T) {
	db := NewAttributeDatabase()
	value := []byte{1, 2, 3}
	h := db.AddAttribute(ble.UUID16(0x2A19), value, PermReadable)
	value[0] = 9

	attr, _ := db.GetAttribute(h)
	if attr.Value[0] != 1 {
		t.Error("AddAttribute must copy the value")
	}
	attr.Value[1] = 9
	again, _ := db.GetAttribute(h)
	if again.Value[1] != 2 {
		t.Error("GetAttribute must return a copy")
	}

	if err := db.SetAttributeValue(h, []byte{7}); err != nil {
		t.Fatalf("SetAttributeValue: %v", err)
	}
	if err := db.SetAttributeValue(0x0100, nil); err == nil {
		t.Error("expected error for invalid handle")
	}
	if _, err := db.GetAttribute(0x0000); err == nil {
		t.Error("handle 0 is reserved")
	}
}
