// Package frame provides the binary framing primitives shared by the
// vendor device codecs: checksum trailers, saturating field packing and
// the base64 text form used for characteristic payloads.
package frame

import "errors"

// Sentinel causes for inbound frames a codec cannot interpret. Family
// decoders wrap these with their own context so errors.Is keeps working
// through the wrap.
var (
	ErrLength   = errors.New("unexpected frame length")
	ErrOpcode   = errors.New("unexpected opcode")
	ErrChecksum = errors.New("checksum mismatch")
)

// Sum8 returns the additive checksum of p: the sum of all bytes truncated
// to 8 bits. Device protocols place it at a fixed trailing offset, always
// computed over the bytes that precede it.
func Sum8(p []byte) byte {
	var sum int
	for _, b := range p {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// Xor8 returns the bytewise exclusive-or fold of p, opcode included.
func Xor8(p []byte) byte {
	var x byte
	for _, b := range p {
		x ^= b
	}
	return x
}

// Clamp saturates v to the inclusive range [lo, hi]. Bounded protocol
// fields never reject out-of-range input; they encode the nearest bound.
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BCD packs a two-digit decimal value so its decimal digits read as hex
// nibbles (25 -> 0x25). Values outside 0..99 are clamped first.
func BCD(n int) byte {
	n = Clamp(n, 0, 99)
	return byte(n/10<<4 | n%10)
}
