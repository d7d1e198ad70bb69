// Package glucometer speaks the FFB0-family blood-glucose meter
// protocol. Every command is a 9-byte frame on FFB1 that stamps the
// wall clock at offsets 2..7 and closes with the additive checksum of
// the preceding bytes; stored readings come back on FFB2.
package glucometer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/srg/blemux/internal/frame"
)

// GATT endpoints of the family.
const (
	ServiceUUID = "ffb0"
	CommandUUID = "ffb1"
	RecordUUID  = "ffb2"
)

const (
	cmdLen    = 9
	recordLen = 12
	magic     = 0x5A

	opSetTime         = 0x0A
	opFetchNextRecord = 0x0B

	opRecord = 0x8A
)

// timeNow is swapped in tests to pin the wall clock.
var timeNow = time.Now

// command builds the family's fixed command shape: magic, opcode, the
// current calendar timestamp as six raw byte fields, and the additive
// checksum over everything before it. The meter uses the embedded
// timestamp to resync its clock on every exchange.
func command(op byte) []byte {
	now := timeNow()
	b := make([]byte, cmdLen)
	b[0] = magic
	b[1] = op
	b[2] = byte(now.Year() % 100)
	b[3] = byte(now.Month())
	b[4] = byte(now.Day())
	b[5] = byte(now.Hour())
	b[6] = byte(now.Minute())
	b[7] = byte(now.Second())
	b[8] = frame.Sum8(b[:8])
	return b
}

// BuildSetTime builds the clock-set command. The payload is the wall
// clock at build time; the command takes no arguments.
func BuildSetTime() []byte { return command(opSetTime) }

// BuildFetchAdditionalRecord builds the command that asks the meter for
// the next stored reading it has not sent yet.
func BuildFetchAdditionalRecord() []byte { return command(opFetchNextRecord) }

// Record is one stored glucose reading.
type Record struct {
	Sequence int
	Taken    time.Time
	MmolL    float64
}

// ParseRecord decodes one FFB2 frame. The raw glucose field counts in
// 0.1 mmol/L.
func ParseRecord(p []byte) (*Record, error) {
	if len(p) != recordLen {
		return nil, fmt.Errorf("glucometer: %w: got %d bytes, want %d", frame.ErrLength, len(p), recordLen)
	}
	if p[0] != magic || p[1] != opRecord {
		return nil, fmt.Errorf("glucometer: %w: 0x%02X 0x%02X", frame.ErrOpcode, p[0], p[1])
	}
	if got := frame.Sum8(p[:11]); got != p[11] {
		return nil, fmt.Errorf("glucometer: %w: computed 0x%02X, frame carries 0x%02X", frame.ErrChecksum, got, p[11])
	}

	return &Record{
		Sequence: int(binary.BigEndian.Uint16(p[2:4])),
		Taken:    time.Date(2000+int(p[4]), time.Month(p[5]), int(p[6]), int(p[7]), int(p[8]), 0, 0, time.Local),
		MmolL:    float64(binary.BigEndian.Uint16(p[9:11])) / 10,
	}, nil
}
