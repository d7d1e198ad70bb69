package frame

import "fmt"

const b64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var b64Reverse = func() (t [256]int8) {
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(b64Alphabet); i++ {
		t[b64Alphabet[i]] = int8(i)
	}
	return
}()

// EncodeBase64 encodes p with the standard base64 alphabet and '='
// padding, three input bytes per four output symbols. It is deliberately
// self-contained: frames must be encodable without touching the
// transport layer.
func EncodeBase64(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	out := make([]byte, 0, (len(p)+2)/3*4)
	i := 0
	for ; i+3 <= len(p); i += 3 {
		n := uint32(p[i])<<16 | uint32(p[i+1])<<8 | uint32(p[i+2])
		out = append(out,
			b64Alphabet[n>>18&0x3F],
			b64Alphabet[n>>12&0x3F],
			b64Alphabet[n>>6&0x3F],
			b64Alphabet[n&0x3F],
		)
	}
	switch len(p) - i {
	case 1:
		n := uint32(p[i]) << 16
		out = append(out, b64Alphabet[n>>18&0x3F], b64Alphabet[n>>12&0x3F], '=', '=')
	case 2:
		n := uint32(p[i])<<16 | uint32(p[i+1])<<8
		out = append(out, b64Alphabet[n>>18&0x3F], b64Alphabet[n>>12&0x3F], b64Alphabet[n>>6&0x3F], '=')
	}
	return string(out)
}

// DecodeBase64 reverses EncodeBase64. Only canonical input is accepted:
// standard alphabet, trailing '=' padding, length a multiple of four.
func DecodeBase64(s string) ([]byte, error) {
	if len(s) == 0 {
		return []byte{}, nil
	}
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("base64: length %d is not a multiple of 4", len(s))
	}
	pad := 0
	if s[len(s)-1] == '=' {
		pad++
		if s[len(s)-2] == '=' {
			pad++
		}
	}
	out := make([]byte, 0, len(s)/4*3-pad)
	for i := 0; i < len(s); i += 4 {
		var n uint32
		chunkPad := 0
		for j := 0; j < 4; j++ {
			c := s[i+j]
			if c == '=' {
				// Padding is only legal in the last chunk, at the
				// last one or two positions.
				if i+4 != len(s) || j < 2 || (j == 2 && s[i+3] != '=') {
					return nil, fmt.Errorf("base64: misplaced padding at offset %d", i+j)
				}
				chunkPad = 4 - j
				n <<= uint(6 * chunkPad)
				break
			}
			v := b64Reverse[c]
			if v < 0 {
				return nil, fmt.Errorf("base64: invalid symbol %q at offset %d", c, i+j)
			}
			n = n<<6 | uint32(v)
		}
		out = append(out, byte(n>>16))
		if chunkPad < 2 {
			out = append(out, byte(n>>8))
		}
		if chunkPad < 1 {
			out = append(out, byte(n))
		}
	}
	return out, nil
}
