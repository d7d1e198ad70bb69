// Package transport defines the asynchronous contract between the
// mediation core and a concrete BLE backend.
//
// A backend receives fire-and-forget commands tagged with a caller-owned
// transaction id and reports every outcome on shared event channels. The
// dispatch methods never fail synchronously: argument problems, radio
// failures and successes all arrive as exactly one Completion carrying
// the originating transaction id. Streaming facilities (notifications,
// scan results, disconnections, adapter state) each use a dedicated
// shared channel; events carry the transaction id (or device id) they
// belong to and it is the caller's job to filter them.
package transport

import "time"

// Transport is the backend contract consumed by the manager. All methods
// must be safe for concurrent use. Implementations own the event
// channels and close them from Close.
type Transport interface {
	// Connect establishes a connection to the peripheral. Completion
	// value: *Peripheral.
	Connect(deviceID string, opts *ConnectOptions, txID string)

	// Disconnect tears the connection down. Completion value:
	// *Peripheral (the disconnected peripheral summary).
	Disconnect(deviceID string, txID string)

	// DiscoverServices performs full service/characteristic discovery.
	// Completion value: *Peripheral with Services populated.
	DiscoverServices(deviceID string, txID string)

	// Read reads a characteristic value. Completion value:
	// *Characteristic with ValueB64 set.
	Read(deviceID, serviceUUID, charUUID, txID string)

	// Write writes a base64-encoded payload to a characteristic.
	// Completion value: *Characteristic.
	Write(deviceID, serviceUUID, charUUID, payloadB64 string, withResponse bool, txID string)

	// Monitor starts notification delivery for a characteristic. The
	// void completion settles once the subscription is active; values
	// then flow on Notifications tagged with txID until Cancel(txID) or
	// a Done event.
	Monitor(deviceID, serviceUUID, charUUID, txID string)

	// ReadRSSI reads the connection RSSI. Completion value: int.
	ReadRSSI(deviceID, txID string)

	// RequestMTU negotiates the ATT MTU. Completion value: int (the
	// granted MTU).
	RequestMTU(deviceID string, mtu int, txID string)

	// Scan starts advertisement scanning. The void completion settles
	// once the radio is scanning; results flow on ScanResults tagged
	// with txID until Cancel(txID).
	Scan(serviceUUIDs []string, allowDuplicates bool, txID string)

	// ReadState reports the adapter state. Completion value: State.
	ReadState(txID string)

	// Cancel aborts the operation or stream owned by txID. Idempotent;
	// cancelling an unknown or settled transaction is a no-op.
	Cancel(txID string)

	Completions() <-chan Completion
	Notifications() <-chan Notification
	ScanResults() <-chan ScanResult
	Disconnections() <-chan Disconnection
	StateChanges() <-chan StateChange
	StateRestores() <-chan StateRestore

	// Close releases the backend and closes every event channel.
	// Dispatch and Cancel calls racing Close are silently ignored.
	Close() error
}

// ConnectOptions tunes connection establishment.
type ConnectOptions struct {
	// Timeout bounds the connection attempt; zero means the backend
	// default.
	Timeout time.Duration

	// RequestMTU, when non-zero, negotiates the MTU right after the
	// connection is up.
	RequestMTU int

	// AutoConnect asks the backend to keep retrying in the background
	// where the platform supports it.
	AutoConnect bool
}
