// Package oximeter decodes the continuous pulse-oximetry stream of the
// ISSC transparent-UART fingertip sensors. The probe pushes 5-byte
// samples at wave rate; there is no command protocol, the stream starts
// as soon as notifications are on.
package oximeter

import (
	"fmt"

	"github.com/srg/blemux/internal/frame"
)

// GATT endpoints of the family. The service is the ISSC transparent
// UART; the probe streams on TX and leaves RX unused.
const (
	ServiceUUID = "49535343-fe7d-4ae5-8fa9-9fafd205e455"
	StreamUUID  = "49535343-1e4d-4bd9-ba61-23c647249616"
	CommandUUID = "49535343-8841-43f4-a8d4-ecbe34729bb3"
)

const sampleLen = 5

// Sensor limit values marking a sample without a pulse lock.
const (
	spo2Invalid  = 127
	pulseInvalid = 255
)

// Sample is one decoded probe frame.
//
// Byte layout: byte 0 carries the sync bit (0x80) and the signal
// strength in its low nibble; byte 1 is the pleth amplitude; byte 2
// holds the bargraph, the probe-unplugged and pulse-searching flags and
// bit 7 of the pulse rate; byte 3 the low seven pulse-rate bits; byte 4
// the SpO2 percentage.
type Sample struct {
	SpO2      int
	PulseRate int
	Pleth     int
	Signal    int
	FingerOut bool
	Searching bool
}

// Valid reports whether the probe had a pulse lock for this sample. The
// sensor parks SpO2 at 127 and the pulse rate at 255 while searching.
func (s *Sample) Valid() bool {
	return s.SpO2 != spo2Invalid && s.PulseRate != pulseInvalid && !s.FingerOut
}

// ParseSample decodes one 5-byte stream frame. The sync bit must be set
// on the first byte and clear on the rest; anything else means the
// reader lost frame alignment.
func ParseSample(p []byte) (*Sample, error) {
	if len(p) != sampleLen {
		return nil, fmt.Errorf("oximeter: %w: got %d bytes, want %d", frame.ErrLength, len(p), sampleLen)
	}
	if p[0]&0x80 == 0 {
		return nil, fmt.Errorf("oximeter: %w: sync bit clear, stream misaligned", frame.ErrOpcode)
	}
	if p[1]&0x80 != 0 || p[2]&0x80 != 0 || p[3]&0x80 != 0 {
		return nil, fmt.Errorf("oximeter: %w: sync bit inside payload, stream misaligned", frame.ErrOpcode)
	}

	return &Sample{
		SpO2:      int(p[4]),
		PulseRate: int(p[3]&0x7F) | int(p[2]&0x40)<<1,
		Pleth:     int(p[1]),
		Signal:    int(p[0] & 0x0F),
		FingerOut: p[2]&0x10 != 0,
		Searching: p[2]&0x20 != 0,
	}, nil
}
