package main

import (
	"errors"

	"github.com/srg/blemux/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly
	// lost during an operation, as opposed to an operation issued
	// against a device that was never connected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError renders err for a terminal user. Structured transport
// errors come out as their human description plus the transaction
// context; everything else prints as-is.
func FormatUserError(err error) string {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case transport.CodeAdapterPoweredOff:
			return "Bluetooth is turned off - enable it and retry"
		case transport.CodeAdapterUnsupported:
			return "this machine has no usable Bluetooth adapter"
		case transport.CodeDeviceNotConnected:
			return terr.Error() + " - connect first or check the address with 'blemux scan'"
		case transport.CodeOperationTimedOut:
			return terr.Error() + " - the device may be out of range"
		}
		return terr.Error()
	}
	return err.Error()
}
