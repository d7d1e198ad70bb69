package glucometer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/frame"
)

func pinClock(t *testing.T, at time.Time) {
	t.Helper()
	restore := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = restore })
}

func TestBuildSetTimeStampsWallClock(t *testing.T) {
	pinClock(t, time.Date(2024, time.March, 5, 13, 45, 12, 0, time.Local))

	b := BuildSetTime()
	require.Len(t, b, 9)
	assert.Equal(t, byte(0x5A), b[0], "frame MUST start with the family magic")
	assert.Equal(t, byte(0x0A), b[1], "clock-set opcode")
	assert.Equal(t, []byte{24, 3, 5, 13, 45, 12}, b[2:8], "payload MUST carry the wall clock as raw byte fields")
	assert.Equal(t, frame.Sum8(b[:8]), b[8], "trailer MUST be the additive checksum of the whole frame")
}

func TestBuildFetchAdditionalRecordStampsWallClock(t *testing.T) {
	pinClock(t, time.Date(2026, time.August, 21, 7, 30, 59, 0, time.Local))

	b := BuildFetchAdditionalRecord()
	require.Len(t, b, 9)
	assert.Equal(t, byte(0x0B), b[1], "fetch opcode")
	assert.Equal(t, []byte{26, 8, 21, 7, 30, 59}, b[2:8],
		"fetch MUST embed the current timestamp exactly like the clock-set command")
	assert.Equal(t, frame.Sum8(b[:8]), b[8])
}

func TestParseRecord(t *testing.T) {
	// Sequence 7, taken 2024-03-05 13:45, 6.2 mmol/L.
	p := []byte{0x5A, 0x8A, 0x00, 0x07, 24, 3, 5, 13, 45, 0x00, 0x3E, 0x00}
	p[11] = frame.Sum8(p[:11])

	r, err := ParseRecord(p)
	require.NoError(t, err)
	assert.Equal(t, 7, r.Sequence)
	assert.Equal(t, time.Date(2024, time.March, 5, 13, 45, 0, 0, time.Local), r.Taken)
	assert.InDelta(t, 6.2, r.MmolL, 0.001)
}

func TestParseRecordRejectsMalformedFrames(t *testing.T) {
	good := []byte{0x5A, 0x8A, 0x00, 0x07, 24, 3, 5, 13, 45, 0x00, 0x3E, 0x00}
	good[11] = frame.Sum8(good[:11])

	_, err := ParseRecord(good[:9])
	assert.ErrorIs(t, err, frame.ErrLength)

	wrongOp := append([]byte(nil), good...)
	wrongOp[1] = 0x0A
	wrongOp[11] = frame.Sum8(wrongOp[:11])
	_, err = ParseRecord(wrongOp)
	assert.ErrorIs(t, err, frame.ErrOpcode)

	corrupt := append([]byte(nil), good...)
	corrupt[10] ^= 0x01
	_, err = ParseRecord(corrupt)
	assert.ErrorIs(t, err, frame.ErrChecksum)
}
