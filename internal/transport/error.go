package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a structured transport failure. The numeric
// values are stable: backends report them and config files may override
// their descriptions.
type ErrorCode int

const (
	CodeUnknown              ErrorCode = 0
	CodeManagerDestroyed     ErrorCode = 1
	CodeOperationCancelled   ErrorCode = 2
	CodeOperationTimedOut    ErrorCode = 3
	CodeOperationStartFailed ErrorCode = 4
	CodeInvalidIdentifier    ErrorCode = 5

	CodeAdapterUnsupported  ErrorCode = 100
	CodeAdapterUnauthorized ErrorCode = 101
	CodeAdapterPoweredOff   ErrorCode = 102

	CodeConnectionFailed       ErrorCode = 200
	CodeDeviceDisconnected     ErrorCode = 201
	CodeDeviceNotConnected     ErrorCode = 202
	CodeDeviceAlreadyConnected ErrorCode = 203
	CodeDeviceNotFound         ErrorCode = 204
	CodeRSSIReadFailed         ErrorCode = 205
	CodeMTUChangeFailed        ErrorCode = 206

	CodeServiceNotFound        ErrorCode = 300
	CodeCharacteristicNotFound ErrorCode = 301
	CodeReadFailed             ErrorCode = 302
	CodeWriteFailed            ErrorCode = 303
	CodeNotifyStartFailed      ErrorCode = 304
)

// String returns the compact code name used in log fields.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code-%d", int(c))
}

var codeNames = map[ErrorCode]string{
	CodeUnknown:                "unknown",
	CodeManagerDestroyed:       "manager-destroyed",
	CodeOperationCancelled:     "operation-cancelled",
	CodeOperationTimedOut:      "operation-timed-out",
	CodeOperationStartFailed:   "operation-start-failed",
	CodeInvalidIdentifier:      "invalid-identifier",
	CodeAdapterUnsupported:     "adapter-unsupported",
	CodeAdapterUnauthorized:    "adapter-unauthorized",
	CodeAdapterPoweredOff:      "adapter-powered-off",
	CodeConnectionFailed:       "connection-failed",
	CodeDeviceDisconnected:     "device-disconnected",
	CodeDeviceNotConnected:     "device-not-connected",
	CodeDeviceAlreadyConnected: "device-already-connected",
	CodeDeviceNotFound:         "device-not-found",
	CodeRSSIReadFailed:         "rssi-read-failed",
	CodeMTUChangeFailed:        "mtu-change-failed",
	CodeServiceNotFound:        "service-not-found",
	CodeCharacteristicNotFound: "characteristic-not-found",
	CodeReadFailed:             "read-failed",
	CodeWriteFailed:            "write-failed",
	CodeNotifyStartFailed:      "notify-start-failed",
}

// MessageTable maps error codes to user-facing descriptions. The
// manager consults its configured table when a failure arrives without a
// reason of its own.
type MessageTable map[ErrorCode]string

var defaultMessages = MessageTable{
	CodeUnknown:                "unknown error",
	CodeManagerDestroyed:       "manager was destroyed",
	CodeOperationCancelled:     "operation was cancelled",
	CodeOperationTimedOut:      "operation timed out",
	CodeOperationStartFailed:   "operation could not be started",
	CodeInvalidIdentifier:      "invalid UUID or device identifier",
	CodeAdapterUnsupported:     "bluetooth is not supported on this platform",
	CodeAdapterUnauthorized:    "bluetooth use is not authorized",
	CodeAdapterPoweredOff:      "bluetooth adapter is powered off",
	CodeConnectionFailed:       "could not connect to device",
	CodeDeviceDisconnected:     "device disconnected",
	CodeDeviceNotConnected:     "device is not connected",
	CodeDeviceAlreadyConnected: "device is already connected",
	CodeDeviceNotFound:         "device not found",
	CodeRSSIReadFailed:         "RSSI read failed",
	CodeMTUChangeFailed:        "MTU negotiation failed",
	CodeServiceNotFound:        "service not found on device",
	CodeCharacteristicNotFound: "characteristic not found on service",
	CodeReadFailed:             "characteristic read failed",
	CodeWriteFailed:            "characteristic write failed",
	CodeNotifyStartFailed:      "could not start notifications",
}

// DefaultMessages returns a copy of the built-in code descriptions,
// suitable as a base for per-deployment overrides.
func DefaultMessages() MessageTable {
	t := make(MessageTable, len(defaultMessages))
	for code, msg := range defaultMessages {
		t[code] = msg
	}
	return t
}

// Describe returns the description for code, falling back to the
// built-in table and finally to the numeric code.
func (t MessageTable) Describe(code ErrorCode) string {
	if t != nil {
		if msg, ok := t[code]; ok {
			return msg
		}
	}
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("transport error %d", int(code))
}

// Error is the structured failure every mediated operation settles with.
// PlatformCode preserves the raw ATT/HCI status when the backend saw
// one; Reason carries the backend's own text when it had any.
type Error struct {
	Code         ErrorCode
	PlatformCode int
	Reason       string
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = defaultMessages.Describe(e.Code)
	}
	if e.PlatformCode != 0 {
		return fmt.Sprintf("%s (platform code %d)", msg, e.PlatformCode)
	}
	return msg
}

// Is allows errors.Is to compare structured errors by code; a sentinel
// with an empty Reason matches any reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinel instances for errors.Is checks.
var (
	ErrCancelled = &Error{Code: CodeOperationCancelled}
	ErrDestroyed = &Error{Code: CodeManagerDestroyed}
)

// NewCancelled builds the locally synthesized cancellation error. It
// never round-trips through the transport.
func NewCancelled(reason string) *Error {
	return &Error{Code: CodeOperationCancelled, Reason: reason}
}

// NewDestroyed builds the locally synthesized teardown error. It takes
// precedence over any in-flight transport outcome.
func NewDestroyed() *Error {
	return &Error{Code: CodeManagerDestroyed}
}

// IsCode reports whether err carries the given structured code.
func IsCode(err error, code ErrorCode) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code == code
	}
	return false
}

// NormalizeError maps a raw backend failure to a structured Error.
// Known backend strings select a specific code; anything else gets the
// caller's fallback code with the raw text preserved as the reason.
func NormalizeError(err error, fallback ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}

	msg := err.Error()
	code := fallback
	switch {
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "not connected"):
		code = CodeDeviceNotConnected
	case containsIgnoreCase(msg, "device already connected"):
		code = CodeDeviceAlreadyConnected
	case containsIgnoreCase(msg, "connection canceled"),
		containsIgnoreCase(msg, "connection closed"),
		containsIgnoreCase(msg, "connection reset"):
		code = CodeDeviceDisconnected
	case containsIgnoreCase(msg, "service") && containsIgnoreCase(msg, "not found"):
		code = CodeServiceNotFound
	case containsIgnoreCase(msg, "characteristic") && containsIgnoreCase(msg, "not found"):
		code = CodeCharacteristicNotFound
	case containsIgnoreCase(msg, "context deadline exceeded"),
		containsIgnoreCase(msg, "timeout"):
		code = CodeOperationTimedOut
	case containsIgnoreCase(msg, "context canceled"):
		code = CodeOperationCancelled
	}
	return &Error{Code: code, Reason: msg}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
