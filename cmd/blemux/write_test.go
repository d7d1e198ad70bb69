package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWriteData_Raw(t *testing.T) {
	data, err := parseWriteData("hello", false)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestParseWriteData_Hex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"plain", "FF01", []byte{0xFF, 0x01}},
		{"lowercase", "ff01", []byte{0xFF, 0x01}},
		{"spaces", "FF 01 02", []byte{0xFF, 0x01, 0x02}},
		{"colons", "FF:01:02", []byte{0xFF, 0x01, 0x02}},
		{"dashes", "FF-01", []byte{0xFF, 0x01}},
		{"0x prefix", "0xFF01", []byte{0xFF, 0x01}},
		{"empty", "", []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseWriteData(tt.input, true)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestParseWriteData_InvalidHex(t *testing.T) {
	_, err := parseWriteData("not hex", true)
	assert.Error(t, err)

	_, err = parseWriteData("FFF", true) // odd length
	assert.Error(t, err)
}

func TestTxOptions(t *testing.T) {
	assert.Nil(t, txOptions(""))
	assert.Len(t, txOptions("my-tx"), 1)
}
