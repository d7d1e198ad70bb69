package transport

import "github.com/srg/blemux/internal/frame"

// Completion is the single settle of a dispatched command. Exactly one
// Completion per transaction id is emitted, with either Value or Err
// set. Value holds the command-specific payload documented on the
// Transport method.
type Completion struct {
	TxID  string
	Value any
	Err   *Error
}

// Notification is one characteristic update on the shared notification
// channel. Err reports a stream failure (the stream is dead afterwards);
// Done reports a normal remote end of stream. Otherwise Char carries the
// update.
type Notification struct {
	TxID string
	Char *Characteristic
	Err  *Error
	Done bool
}

// ScanResult is one advertisement report on the shared scan channel.
type ScanResult struct {
	TxID string
	Adv  *Advertisement
	Err  *Error
}

// Disconnection reports a peripheral connection loss. Err is nil for a
// requested disconnect and non-nil when the link dropped.
type Disconnection struct {
	DeviceID string
	Err      *Error
}

// StateChange reports an adapter state transition.
type StateChange struct {
	State State
}

// StateRestore reports state handed back by the platform after a
// backgrounded session was revived.
type StateRestore struct {
	State *RestoredState
}

// Characteristic is the raw characteristic view crossing the transport
// boundary. Values travel base64-encoded.
type Characteristic struct {
	DeviceID    string
	ServiceUUID string
	UUID        string
	ValueB64    string
	IsNotifying bool
}

// Value decodes the base64 payload. An empty payload decodes to an empty
// slice.
func (c *Characteristic) Value() ([]byte, error) {
	return frame.DecodeBase64(c.ValueB64)
}

// Service groups the characteristics discovered under one service UUID.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Peripheral is the device summary returned by connection and discovery
// completions.
type Peripheral struct {
	DeviceID string
	Name     string
	MTU      int
	Services []Service
}

// Advertisement is a single scan report.
type Advertisement struct {
	DeviceID        string
	LocalName       string
	RSSI            int
	ServiceUUIDs    []string
	ManufacturerB64 string
	Connectable     bool
}

// RestoredState lists what the platform preserved across a session
// restore.
type RestoredState struct {
	ConnectedDeviceIDs []string
}
