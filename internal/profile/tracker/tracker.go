// Package tracker speaks the FEE7-family fitness band protocol. Every
// frame is 16 bytes: opcode at offset 0, payload fields behind it, the
// additive checksum of the first 15 bytes at offset 15. Date and time
// fields pack their two decimal digits as hex nibbles, so March reads
// back as 0x03 and the minute 45 as 0x45.
package tracker

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/srg/blemux/internal/frame"
)

// GATT endpoints of the family.
const (
	ServiceUUID = "fee7"
	CommandUUID = "fee3"
	EventUUID   = "fee2"
)

const (
	frameLen = 16

	opSetTime      = 0x01
	opVibrate      = 0x02
	opDistanceUnit = 0x03
	opDaySummary   = 0x04
	opDayDetail    = 0x05

	opAck         = 0xC0
	opDayActivity = 0xC1
)

// Unit selects the distance unit the band displays.
type Unit byte

const (
	UnitMetric Unit = 0x00
	UnitUS     Unit = 0x01
)

// newFrame returns a zeroed 16-byte frame with the opcode set. Builders
// fill the payload and then seal the checksum.
func newFrame(op byte) []byte {
	b := make([]byte, frameLen)
	b[0] = op
	return b
}

func seal(b []byte) []byte {
	b[frameLen-1] = frame.Sum8(b[:frameLen-1])
	return b
}

// BuildSetDeviceTime builds the clock-set frame for t.
func BuildSetDeviceTime(t time.Time) []byte {
	b := newFrame(opSetTime)
	b[1] = frame.BCD(t.Year() % 100)
	b[2] = frame.BCD(int(t.Month()))
	b[3] = frame.BCD(t.Day())
	b[4] = frame.BCD(t.Hour())
	b[5] = frame.BCD(t.Minute())
	b[6] = frame.BCD(t.Second())
	return seal(b)
}

// BuildActivateVibration builds the vibration command. The band motor
// runs at most 10 seconds per command; longer requests saturate.
func BuildActivateVibration(seconds int) []byte {
	b := newFrame(opVibrate)
	b[1] = byte(frame.Clamp(seconds, 0, 10))
	return seal(b)
}

// BuildSetDistanceUnit builds the display-unit frame.
func BuildSetDistanceUnit(u Unit) []byte {
	b := newFrame(opDistanceUnit)
	b[1] = byte(u)
	return seal(b)
}

// BuildRequestDayActivity builds the activity-log request for one day.
// The band echoes the requested date back in its records, which is how
// responses are matched to requests across a multi-day sync.
func BuildRequestDayActivity(date time.Time, detailed bool) []byte {
	op := byte(opDaySummary)
	if detailed {
		op = opDayDetail
	}
	b := newFrame(op)
	b[1] = frame.BCD(date.Year() % 100)
	b[2] = frame.BCD(int(date.Month()))
	b[3] = frame.BCD(date.Day())
	return seal(b)
}

// EventKind discriminates the inbound frame types of the band.
type EventKind int

const (
	// EventAck confirms a command the host wrote.
	EventAck EventKind = iota
	// EventDayActivity carries one day's activity totals.
	EventDayActivity
)

// Ack reports the band's answer to one command.
type Ack struct {
	Opcode byte
	OK     bool
}

// DayActivity is one day's totals from the activity log.
type DayActivity struct {
	Year      int
	Month     time.Month
	Day       int
	Steps     int
	DistanceM int
	Calories  int
}

// Event is one decoded inbound frame. Exactly one of Ack and Day is set,
// matching Kind.
type Event struct {
	Kind EventKind
	Ack  *Ack
	Day  *DayActivity
}

// fromBCD reads a two-digit field packed by frame.BCD.
func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}

// ParseEvent decodes one FEE2 frame.
func ParseEvent(p []byte) (*Event, error) {
	if len(p) != frameLen {
		return nil, fmt.Errorf("tracker: %w: got %d bytes, want %d", frame.ErrLength, len(p), frameLen)
	}
	if got := frame.Sum8(p[:frameLen-1]); got != p[frameLen-1] {
		return nil, fmt.Errorf("tracker: %w: computed 0x%02X, frame carries 0x%02X", frame.ErrChecksum, got, p[frameLen-1])
	}

	switch p[0] {
	case opAck:
		return &Event{Kind: EventAck, Ack: &Ack{Opcode: p[1], OK: p[2] == 0x00}}, nil
	case opDayActivity:
		return &Event{Kind: EventDayActivity, Day: &DayActivity{
			Year:      2000 + fromBCD(p[1]),
			Month:     time.Month(fromBCD(p[2])),
			Day:       fromBCD(p[3]),
			Steps:     int(binary.BigEndian.Uint32(p[4:8])),
			DistanceM: int(binary.BigEndian.Uint32(p[8:12])),
			Calories:  int(p[12])<<16 | int(p[13])<<8 | int(p[14]),
		}}, nil
	default:
		return nil, fmt.Errorf("tracker: %w: 0x%02X", frame.ErrOpcode, p[0])
	}
}
