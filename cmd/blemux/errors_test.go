package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blemux/internal/transport"
)

func TestFormatUserError_PlainError(t *testing.T) {
	assert.Equal(t, "boom", FormatUserError(errors.New("boom")))
}

func TestFormatUserError_PoweredOff(t *testing.T) {
	err := &transport.Error{Code: transport.CodeAdapterPoweredOff}
	assert.Contains(t, FormatUserError(err), "Bluetooth is turned off")
}

func TestFormatUserError_NotConnectedHint(t *testing.T) {
	err := &transport.Error{Code: transport.CodeDeviceNotConnected, Reason: "device AA:BB is not connected"}
	out := FormatUserError(err)
	assert.Contains(t, out, "AA:BB")
	assert.Contains(t, out, "blemux scan")
}

func TestFormatUserError_WrappedTransportError(t *testing.T) {
	inner := &transport.Error{Code: transport.CodeOperationTimedOut, Reason: "read timed out"}
	wrapped := fmt.Errorf("read 2a37: %w", inner)
	assert.Contains(t, FormatUserError(wrapped), "out of range")
}
