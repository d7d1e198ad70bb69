package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/frame"
)

// GOAL: pin the exact wire layout of the clock-set frame.
//
// 2024-03-05T13:45:12 must produce a 16-byte frame with opcode 0x01,
// the six calendar fields packed so their decimal digits read as hex at
// offsets 1..6, and the additive checksum of bytes 0..14 at offset 15.
func TestBuildSetDeviceTimeFrame(t *testing.T) {
	at := time.Date(2024, time.March, 5, 13, 45, 12, 0, time.Local)
	b := BuildSetDeviceTime(at)

	require.Len(t, b, 16)
	assert.Equal(t, byte(0x01), b[0], "clock-set opcode MUST be 0x01")
	assert.Equal(t, []byte{0x24, 0x03, 0x05, 0x13, 0x45, 0x12}, b[1:7],
		"calendar fields MUST pack their decimal digits as hex nibbles")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, b[7:15], "padding MUST stay zero")
	assert.Equal(t, frame.Sum8(b[:15]), b[15], "offset 15 MUST carry the additive checksum of bytes 0..14")
}

func TestBuildActivateVibrationClamping(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    byte
	}{
		{name: "negative saturates to zero", seconds: -5, want: 0},
		{name: "within range", seconds: 7, want: 7},
		{name: "above range saturates to ten", seconds: 99, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BuildActivateVibration(tt.seconds)
			assert.Equal(t, byte(0x02), b[0])
			assert.Equal(t, tt.want, b[1], "duration MUST saturate to 0..10")
			assert.Equal(t, frame.Sum8(b[:15]), b[15])
		})
	}
}

func TestBuildSetDistanceUnit(t *testing.T) {
	metric := BuildSetDistanceUnit(UnitMetric)
	us := BuildSetDistanceUnit(UnitUS)

	assert.Equal(t, byte(0x00), metric[1])
	assert.Equal(t, byte(0x01), us[1])
	assert.Equal(t, frame.Sum8(us[:15]), us[15])
}

func TestBuildRequestDayActivityEchoesDate(t *testing.T) {
	date := time.Date(2024, time.November, 28, 0, 0, 0, 0, time.Local)

	summary := BuildRequestDayActivity(date, false)
	assert.Equal(t, byte(0x04), summary[0], "summary request opcode")
	assert.Equal(t, []byte{0x24, 0x11, 0x28}, summary[1:4], "requested date MUST ride in the payload")

	detail := BuildRequestDayActivity(date, true)
	assert.Equal(t, byte(0x05), detail[0], "detail request opcode")
	assert.Equal(t, summary[1:4], detail[1:4])
}

func TestParseEventAck(t *testing.T) {
	p := make([]byte, 16)
	p[0] = 0xC0
	p[1] = 0x01
	p[2] = 0x00
	p[15] = frame.Sum8(p[:15])

	ev, err := ParseEvent(p)
	require.NoError(t, err)
	assert.Equal(t, EventAck, ev.Kind)
	require.NotNil(t, ev.Ack)
	assert.Equal(t, byte(0x01), ev.Ack.Opcode)
	assert.True(t, ev.Ack.OK)
	assert.Nil(t, ev.Day)

	p[2] = 0x01
	p[15] = frame.Sum8(p[:15])
	ev, err = ParseEvent(p)
	require.NoError(t, err)
	assert.False(t, ev.Ack.OK, "non-zero status MUST decode as a failed ack")
}

func TestParseEventDayActivity(t *testing.T) {
	p := make([]byte, 16)
	p[0] = 0xC1
	p[1], p[2], p[3] = 0x24, 0x03, 0x05
	// 12845 steps, 9450 m, 1872 kcal.
	copy(p[4:8], []byte{0x00, 0x00, 0x32, 0x2D})
	copy(p[8:12], []byte{0x00, 0x00, 0x24, 0xEA})
	copy(p[12:15], []byte{0x00, 0x07, 0x50})
	p[15] = frame.Sum8(p[:15])

	ev, err := ParseEvent(p)
	require.NoError(t, err)
	assert.Equal(t, EventDayActivity, ev.Kind)
	require.NotNil(t, ev.Day)
	assert.Equal(t, 2024, ev.Day.Year)
	assert.Equal(t, time.March, ev.Day.Month)
	assert.Equal(t, 5, ev.Day.Day)
	assert.Equal(t, 12845, ev.Day.Steps)
	assert.Equal(t, 9450, ev.Day.DistanceM)
	assert.Equal(t, 1872, ev.Day.Calories)
}

func TestParseEventRejectsMalformedFrames(t *testing.T) {
	good := make([]byte, 16)
	good[0] = 0xC0
	good[15] = frame.Sum8(good[:15])

	_, err := ParseEvent(good[:10])
	assert.ErrorIs(t, err, frame.ErrLength)

	corrupt := append([]byte(nil), good...)
	corrupt[5] = 0x77
	_, err = ParseEvent(corrupt)
	assert.ErrorIs(t, err, frame.ErrChecksum)

	unknown := make([]byte, 16)
	unknown[0] = 0x7E
	unknown[15] = frame.Sum8(unknown[:15])
	_, err = ParseEvent(unknown)
	assert.ErrorIs(t, err, frame.ErrOpcode)
}
