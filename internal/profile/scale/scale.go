// Package scale speaks the command and measurement protocol of the
// FFF0-family body composition scales. Commands go to FFF1 as 11-byte
// frames with an XOR trailer; the scale answers on FFF4.
package scale

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/srg/blemux/internal/frame"
)

// GATT endpoints of the family.
const (
	ServiceUUID     = "fff0"
	CommandUUID     = "fff1"
	MeasurementUUID = "fff4"
)

const (
	frameLen = 11
	magic    = 0xFD

	opSetProfile    = 0x41
	opSelectProfile = 0x42
	opReset         = 0x43

	opMeasurement = 0xA0
)

// Gender selects the body-composition model the scale applies.
type Gender byte

const (
	GenderFemale Gender = 0x00
	GenderMale   Gender = 0x01
)

// Unit selects the display unit system on the scale head.
type Unit byte

const (
	UnitMetric   Unit = 0x00
	UnitImperial Unit = 0x01
)

// newFrame returns a zeroed command frame with the magic and opcode set.
// The XOR trailer is left for the builder to fill once the payload is
// complete.
func newFrame(op byte) []byte {
	b := make([]byte, frameLen)
	b[0] = magic
	b[1] = op
	return b
}

// parseUserID converts the 8-hex-character profile id into its four
// payload bytes.
func parseUserID(userID string) ([]byte, error) {
	if len(userID) != 8 {
		return nil, fmt.Errorf("scale: user id %q must be 8 hex characters", userID)
	}
	uid, err := hex.DecodeString(userID)
	if err != nil {
		return nil, fmt.Errorf("scale: user id %q is not hex: %w", userID, err)
	}
	return uid, nil
}

// BuildSetUserProfile builds the profile upload frame. Age saturates to
// 10..98 years and height to 100..218 cm; the scale head rejects values
// outside those ranges at measurement time, so the frame never carries
// them.
func BuildSetUserProfile(userID string, age, heightCM int, g Gender) ([]byte, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	b := newFrame(opSetProfile)
	copy(b[2:6], uid)
	b[6] = byte(g)
	b[7] = byte(frame.Clamp(age, 10, 98))
	b[8] = byte(frame.Clamp(heightCM, 100, 218))
	b[10] = frame.Xor8(b[:10])
	return b, nil
}

// BuildSelectUserProfile builds the frame that activates a stored
// profile and carries the display unit flag.
//
// The shipped companion app records the unit byte before deriving the
// flag from the unit argument, so every select frame goes out with 0x00
// at offset 6 whatever the caller asked for. Scales in the field pair
// with that behavior; keep it until the vendor clarifies the intended
// order.
func BuildSelectUserProfile(userID string, u Unit) ([]byte, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	b := newFrame(opSelectProfile)
	copy(b[2:6], uid)
	var unit byte
	b[6] = unit
	if u == UnitImperial {
		unit = 0x01
	}
	b[10] = frame.Xor8(b[:10])
	return b, nil
}

// BuildReset builds the factory-reset frame. It clears every stored
// profile on the scale head.
func BuildReset() []byte {
	b := newFrame(opReset)
	b[10] = frame.Xor8(b[:10])
	return b
}

// Measurement is one weight report. The scale streams interim readings
// while the value settles and flags the final one stable; impedance is
// only present once the electrodes got a full circuit.
type Measurement struct {
	WeightKG     float64
	ImpedanceOhm int
	Stable       bool
}

const (
	flagStable    = 0x01
	flagImpedance = 0x02
)

// ParseMeasurement decodes one FFF4 report.
func ParseMeasurement(p []byte) (*Measurement, error) {
	if len(p) != frameLen {
		return nil, fmt.Errorf("scale: %w: got %d bytes, want %d", frame.ErrLength, len(p), frameLen)
	}
	if p[0] != magic || p[1] != opMeasurement {
		return nil, fmt.Errorf("scale: %w: 0x%02X 0x%02X", frame.ErrOpcode, p[0], p[1])
	}
	if got := frame.Xor8(p[:10]); got != p[10] {
		return nil, fmt.Errorf("scale: %w: computed 0x%02X, frame carries 0x%02X", frame.ErrChecksum, got, p[10])
	}

	m := &Measurement{
		WeightKG: float64(binary.BigEndian.Uint16(p[3:5])) / 10,
		Stable:   p[2]&flagStable != 0,
	}
	if p[2]&flagImpedance != 0 {
		m.ImpedanceOhm = int(binary.BigEndian.Uint16(p[5:7]))
	}
	return m, nil
}
