package protocol

import "time"

// Sex as the ring encodes it in the user-info command.
type Sex byte

const (
	SexFemale Sex = 0
	SexMale   Sex = 1
)

func (s Sex) String() string {
	switch s {
	case SexFemale:
		return "female"
	case SexMale:
		return "male"
	default:
		return "unknown"
	}
}

// ParseSex accepts "male"/"m" and "female"/"f".
func ParseSex(s string) (Sex, bool) {
	switch s {
	case "male", "m", "M", "Male":
		return SexMale, true
	case "female", "f", "F", "Female":
		return SexFemale, true
	default:
		return 0, false
	}
}

// UserProfile is pushed to the ring during the handshake. Each field
// occupies one byte on the wire.
type UserProfile struct {
	Sex      Sex
	Age      int
	HeightCm int
	WeightKg int
}

// Profile bounds accepted by the ring firmware.
const (
	MinAge      = 1
	MaxAge      = 120
	MinHeightCm = 50
	MaxHeightCm = 250
	MinWeightKg = 10
	MaxWeightKg = 250
)

// Validate checks every field fits the ring's single-byte encoding.
func (p UserProfile) Validate() error {
	if p.Sex != SexFemale && p.Sex != SexMale {
		return &ProfileError{Field: "sex", Value: int(p.Sex), Min: int(SexFemale), Max: int(SexMale)}
	}
	checks := []struct {
		field    string
		v        int
		min, max int
	}{
		{"age", p.Age, MinAge, MaxAge},
		{"height_cm", p.HeightCm, MinHeightCm, MaxHeightCm},
		{"weight_kg", p.WeightKg, MinWeightKg, MaxWeightKg},
	}
	for _, c := range checks {
		if c.v < c.min || c.v > c.max {
			return &ProfileError{Field: c.field, Value: c.v, Min: c.min, Max: c.max}
		}
	}
	return nil
}

// PlaceholderRingID fills the ring-identifier slot of the user-info command.
// The companion app never assigns one, the firmware only requires the slot
// to be present.
var PlaceholderRingID = [6]byte{'0', '0', '0', '0', '0', '0'}

// BuildSetTime encodes t as plain decimal fields. The vendor documentation
// describes these as BCD, but the firmware reads them as binary values.
//
//	[0x01][YY-2000][MM][DD][hh][mm][ss][0...]
func BuildSetTime(t time.Time) Frame {
	year := t.Year() - 2000
	if year < 0 {
		year = 0
	}
	return Encode(OpSetTime, []byte{
		byte(year),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	})
}

// BuildSetUserInfo encodes p with the derived step length.
//
//	[0x02][SEX][AGE][HEIGHT][WEIGHT][STEP][RINGID(6)][0...]
//
// Call Validate first; out of range fields are truncated to a byte here.
func BuildSetUserInfo(p UserProfile) Frame {
	payload := []byte{
		byte(p.Sex),
		byte(p.Age),
		byte(p.HeightCm),
		byte(p.WeightKg),
		byte(StepLength(p.HeightCm)),
	}
	payload = append(payload, PlaceholderRingID[:]...)
	return Encode(OpSetUserInfo, payload)
}

// BuildGetIdentifier requests the 6-byte hardware identifier.
func BuildGetIdentifier() Frame { return Encode(OpGetIdentifier, nil) }

// BuildGetFirmwareVersion requests the BCD firmware version quad.
func BuildGetFirmwareVersion() Frame { return Encode(OpGetFirmwareVersion, nil) }

// BuildGetBattery requests the battery percentage.
func BuildGetBattery() Frame { return Encode(OpGetBattery, nil) }
