package ptyio

import (
	"testing"

	"github.com/smallnest/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringWith(t *testing.T, capacity int, seed string) *ringbuffer.RingBuffer {
	t.Helper()
	rb := ringbuffer.New(capacity)
	if seed != "" {
		n, err := rb.Write([]byte(seed))
		require.NoError(t, err)
		require.Equal(t, len(seed), n)
	}
	return rb
}

func drain(rb *ringbuffer.RingBuffer) string {
	buf := make([]byte, rb.Capacity())
	n, _ := rb.TryRead(buf)
	return string(buf[:n])
}

func TestStashKeepsNewestBytes(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int
		seed        string
		input       string
		wantEvicted int
		wantContent string
	}{
		{name: "fits in empty ring", capacity: 8, input: "abcd", wantContent: "abcd"},
		{name: "fills exactly", capacity: 8, seed: "abcd", input: "efgh", wantContent: "abcdefgh"},
		{name: "evicts oldest on overflow", capacity: 8, seed: "abcdefgh", input: "XY", wantEvicted: 2, wantContent: "cdefghXY"},
		{name: "input longer than ring keeps tail", capacity: 4, input: "123456", wantEvicted: 2, wantContent: "3456"},
		{name: "evicts whole seed for a full-width input", capacity: 4, seed: "abc", input: "defg", wantEvicted: 3, wantContent: "defg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := ringWith(t, tt.capacity, tt.seed)
			evicted := stash(rb, []byte(tt.input))
			assert.Equal(t, tt.wantEvicted, evicted)
			assert.Equal(t, tt.wantContent, drain(rb))
		})
	}
}

func TestStashRepeatedOverflowTracksEvictions(t *testing.T) {
	rb := ringbuffer.New(4)
	total := 0
	for i := 0; i < 5; i++ {
		total += stash(rb, []byte("ab"))
	}
	// Five 2-byte writes into a 4-byte ring: the first two fit, every later
	// write evicts its predecessor.
	assert.Equal(t, 6, total)
	assert.Equal(t, "abab", drain(rb))
}
