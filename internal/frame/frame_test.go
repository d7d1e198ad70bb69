package frame

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSum8MatchesModularSum verifies the additive checksum law:
// Sum8(b) == sum(b) mod 256 for arbitrary byte sequences.
func TestSum8MatchesModularSum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)

		want := 0
		for _, b := range buf {
			want = (want + int(b)) % 256
		}
		assert.Equal(t, byte(want), Sum8(buf), "Sum8 MUST equal the modular byte sum")
	}
}

func TestSum8KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected byte
	}{
		{name: "empty", input: nil, expected: 0x00},
		{name: "single byte", input: []byte{0x7F}, expected: 0x7F},
		{name: "wraps at 256", input: []byte{0xFF, 0x01}, expected: 0x00},
		{name: "wraps twice", input: []byte{0xFF, 0xFF, 0x03}, expected: 0x01},
		{name: "typical command frame", input: []byte{0xFD, 0xFD, 0xFA, 0x05}, expected: 0xF9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sum8(tt.input))
		})
	}
}

// TestXor8IsLeftFold verifies the XOR trailer law: Xor8(b) equals the
// left-fold exclusive-or over every byte, opcode included.
func TestXor8IsLeftFold(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)

		var want byte
		for _, b := range buf {
			want ^= b
		}
		assert.Equal(t, want, Xor8(buf))
	}
}

func TestXor8KnownValues(t *testing.T) {
	assert.Equal(t, byte(0x00), Xor8(nil), "empty fold MUST yield zero")
	assert.Equal(t, byte(0x5A), Xor8([]byte{0x5A}))
	assert.Equal(t, byte(0x00), Xor8([]byte{0xA5, 0xA5}), "equal bytes cancel out")
	assert.Equal(t, byte(0x06), Xor8([]byte{0x01, 0x02, 0x05}))
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		v        int
		lo, hi   int
		expected int
	}{
		{name: "below range saturates low", v: 50, lo: 100, hi: 218, expected: 100},
		{name: "above range saturates high", v: 300, lo: 100, hi: 218, expected: 218},
		{name: "inside range unchanged", v: 175, lo: 100, hi: 218, expected: 175},
		{name: "at low bound", v: 100, lo: 100, hi: 218, expected: 100},
		{name: "at high bound", v: 218, lo: 100, hi: 218, expected: 218},
		{name: "negative input", v: -4, lo: 0, hi: 10, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clamp(tt.v, tt.lo, tt.hi))
		})
	}
}

func TestBCD(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected byte
	}{
		{name: "zero", input: 0, expected: 0x00},
		{name: "single digit", input: 7, expected: 0x07},
		{name: "two digits", input: 45, expected: 0x45},
		{name: "year fragment", input: 24, expected: 0x24},
		{name: "upper bound", input: 99, expected: 0x99},
		{name: "clamped above", input: 123, expected: 0x99},
		{name: "clamped below", input: -5, expected: 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BCD(tt.input))
		})
	}
}
