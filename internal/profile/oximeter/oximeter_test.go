package oximeter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/frame"
)

func TestParseSample(t *testing.T) {
	// Locked reading: signal 8, pleth 52, pulse 72, SpO2 98.
	s, err := ParseSample([]byte{0x88, 0x34, 0x00, 0x48, 0x62})
	require.NoError(t, err)
	assert.Equal(t, 98, s.SpO2)
	assert.Equal(t, 72, s.PulseRate)
	assert.Equal(t, 52, s.Pleth)
	assert.Equal(t, 8, s.Signal)
	assert.False(t, s.FingerOut)
	assert.False(t, s.Searching)
	assert.True(t, s.Valid())
}

func TestParseSamplePulseRateHighBit(t *testing.T) {
	// Pulse 130 = bit 7 in byte 2 plus 2 in byte 3.
	s, err := ParseSample([]byte{0x84, 0x20, 0x40, 0x02, 0x5F})
	require.NoError(t, err)
	assert.Equal(t, 130, s.PulseRate, "bit 6 of byte 2 MUST extend the pulse rate to 8 bits")
	assert.Equal(t, 95, s.SpO2)
}

func TestParseSampleFlags(t *testing.T) {
	fingerOut, err := ParseSample([]byte{0x80, 0x00, 0x10, 0x7F, 0x7F})
	require.NoError(t, err)
	assert.True(t, fingerOut.FingerOut)
	assert.False(t, fingerOut.Valid(), "a sample without a finger MUST NOT be valid")

	searching, err := ParseSample([]byte{0x83, 0x12, 0x20, 0x48, 0x60})
	require.NoError(t, err)
	assert.True(t, searching.Searching)
	assert.True(t, searching.Valid(), "searching alone MUST NOT invalidate a locked reading")
}

func TestParseSampleParkedValuesAreInvalid(t *testing.T) {
	parked, err := ParseSample([]byte{0x80, 0x00, 0x40, 0x7F, 0x7F})
	require.NoError(t, err)
	assert.Equal(t, 127, parked.SpO2)
	assert.Equal(t, 255, parked.PulseRate)
	assert.False(t, parked.Valid(), "parked sensor limits MUST read as no-lock")
}

func TestParseSampleRejectsMisalignedFrames(t *testing.T) {
	_, err := ParseSample([]byte{0x88, 0x34, 0x00})
	assert.ErrorIs(t, err, frame.ErrLength)

	_, err = ParseSample([]byte{0x08, 0x34, 0x00, 0x48, 0x62})
	assert.ErrorIs(t, err, frame.ErrOpcode, "a frame without the sync bit MUST be rejected")

	_, err = ParseSample([]byte{0x88, 0xB4, 0x00, 0x48, 0x62})
	assert.ErrorIs(t, err, frame.ErrOpcode, "a sync bit inside the payload means lost alignment")
}
