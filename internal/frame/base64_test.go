package frame

import (
	"encoding/base64"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeBase64MatchesStandardEncoding cross-checks the
// self-contained encoder against the canonical standard-alphabet
// encoding for arbitrary buffers.
func TestEncodeBase64MatchesStandardEncoding(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 300; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)
		assert.Equal(t, base64.StdEncoding.EncodeToString(buf), EncodeBase64(buf))
	}
}

// TestBase64RoundTrip verifies decode(encode(b)) == b for arbitrary
// buffers, including the empty one.
func TestBase64RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 300; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)

		decoded, err := DecodeBase64(EncodeBase64(buf))
		require.NoError(t, err)
		assert.Equal(t, buf, decoded, "round trip MUST reproduce the original buffer")
	}

	decoded, err := DecodeBase64("")
	require.NoError(t, err)
	assert.Equal(t, []byte{}, decoded)
}

func TestBase64PaddingRules(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		expected    string
		padSuffixes int
	}{
		{name: "length mod 3 == 0 has no padding", input: []byte("abc"), expected: "YWJj", padSuffixes: 0},
		{name: "length mod 3 == 1 has two pads", input: []byte("abcd"), expected: "YWJjZA==", padSuffixes: 2},
		{name: "length mod 3 == 2 has one pad", input: []byte("abcde"), expected: "YWJjZGU=", padSuffixes: 1},
		{name: "single byte", input: []byte{0x00}, expected: "AA==", padSuffixes: 2},
		{name: "two bytes", input: []byte{0xFF, 0xFF}, expected: "//8=", padSuffixes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeBase64(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.padSuffixes, len(got)-len(strings.TrimRight(got, "=")))
		})
	}
}

func TestDecodeBase64RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "length not multiple of four", input: "YWJ"},
		{name: "symbol outside alphabet", input: "YW%j"},
		{name: "padding in the middle", input: "YW==YWJj"},
		{name: "padding before position two", input: "Y==="},
		{name: "gap after padding", input: "YW=j"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBase64(tt.input)
			assert.Error(t, err)
		})
	}
}
