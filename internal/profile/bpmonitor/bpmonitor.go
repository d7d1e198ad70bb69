// Package bpmonitor speaks the FFE0-family blood-pressure monitor
// protocol. Commands go to FFE9 behind a 0xCC 0x80 header with an XOR
// trailer; the cuff reports live pressure and the final reading on
// FFE4 behind 0xCC 0x81.
package bpmonitor

import (
	"fmt"
	"time"

	"github.com/srg/blemux/internal/frame"
)

// GATT endpoints of the family.
const (
	ServiceUUID     = "ffe0"
	CommandUUID     = "ffe9"
	MeasurementUUID = "ffe4"
)

const (
	header     = 0xCC
	grpCommand = 0x80
	grpReport  = 0x81

	opFetchMode    = 0x01
	opFetchHistory = 0x02
	opVoiceToggle  = 0x03
	opStartTest    = 0x04
	opSetTime      = 0x10

	repReading      = 0x01
	repCuffPressure = 0x02
)

// Trailer constants of the four fixed commands, precomputed as the XOR
// of the frame's first four bytes. TestFixedFrameTrailers keeps them
// honest against frame.Xor8.
const (
	sumFetchMode    = 0x4D
	sumFetchHistory = 0x4E
	sumVoiceToggle  = 0x4F
	sumStartTest    = 0x48
)

func fixed(op, sum byte) []byte {
	return []byte{header, grpCommand, op, 0x00, sum}
}

// BuildFetchMode builds the command that asks the cuff for its current
// operating mode.
func BuildFetchMode() []byte { return fixed(opFetchMode, sumFetchMode) }

// BuildFetchHistory builds the command that starts a stored-readings
// dump.
func BuildFetchHistory() []byte { return fixed(opFetchHistory, sumFetchHistory) }

// BuildVoiceToggle builds the command that flips the voice announcement
// setting.
func BuildVoiceToggle() []byte { return fixed(opVoiceToggle, sumVoiceToggle) }

// BuildStartTest builds the command that inflates the cuff and starts a
// measurement cycle.
func BuildStartTest() []byte { return fixed(opStartTest, sumStartTest) }

// timeNow is swapped in tests to pin the wall clock.
var timeNow = time.Now

// BuildSetDeviceTime builds the clock-set frame for t.
//
// The year byte comes from the wall clock at build time while month,
// day, hour, minute and second come from t. The shipped companion app
// has done it that way since the first release and deployed cuffs
// accept the mix; preserve the asymmetry until the vendor says which
// source the year should track.
func BuildSetDeviceTime(t time.Time) []byte {
	b := make([]byte, 10)
	b[0] = header
	b[1] = grpCommand
	b[2] = opSetTime
	b[3] = byte(timeNow().Year() % 100)
	b[4] = byte(t.Month())
	b[5] = byte(t.Day())
	b[6] = byte(t.Hour())
	b[7] = byte(t.Minute())
	b[8] = byte(t.Second())
	b[9] = frame.Xor8(b[:9])
	return b
}

// EventKind discriminates the inbound frame types of the cuff.
type EventKind int

const (
	// EventCuffPressure is a live pressure sample during inflation.
	EventCuffPressure EventKind = iota
	// EventReading is the final measurement of a cycle.
	EventReading
)

// Reading is one completed blood-pressure measurement.
type Reading struct {
	Systolic  int
	Diastolic int
	Pulse     int
}

// Event is one decoded inbound frame. Reading is set for EventReading;
// Pressure carries the live cuff pressure in mmHg for
// EventCuffPressure.
type Event struct {
	Kind     EventKind
	Reading  *Reading
	Pressure int
}

// ParseEvent decodes one FFE4 frame.
func ParseEvent(p []byte) (*Event, error) {
	if len(p) < 3 {
		return nil, fmt.Errorf("bpmonitor: %w: got %d bytes", frame.ErrLength, len(p))
	}
	if p[0] != header || p[1] != grpReport {
		return nil, fmt.Errorf("bpmonitor: %w: 0x%02X 0x%02X", frame.ErrOpcode, p[0], p[1])
	}

	switch p[2] {
	case repReading:
		if len(p) != 7 {
			return nil, fmt.Errorf("bpmonitor: %w: reading frame has %d bytes, want 7", frame.ErrLength, len(p))
		}
		if got := frame.Xor8(p[:6]); got != p[6] {
			return nil, fmt.Errorf("bpmonitor: %w: computed 0x%02X, frame carries 0x%02X", frame.ErrChecksum, got, p[6])
		}
		return &Event{Kind: EventReading, Reading: &Reading{
			Systolic:  int(p[3]),
			Diastolic: int(p[4]),
			Pulse:     int(p[5]),
		}}, nil
	case repCuffPressure:
		if len(p) != 6 {
			return nil, fmt.Errorf("bpmonitor: %w: pressure frame has %d bytes, want 6", frame.ErrLength, len(p))
		}
		if got := frame.Xor8(p[:5]); got != p[5] {
			return nil, fmt.Errorf("bpmonitor: %w: computed 0x%02X, frame carries 0x%02X", frame.ErrChecksum, got, p[5])
		}
		return &Event{Kind: EventCuffPressure, Pressure: int(p[3])<<8 | int(p[4])}, nil
	default:
		return nil, fmt.Errorf("bpmonitor: %w: report 0x%02X", frame.ErrOpcode, p[2])
	}
}
