package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/transport"
)

// TxOption customizes one operation call.
type TxOption func(*txOptions)

type txOptions struct {
	id string
}

// WithTransactionID pins the operation to a caller-chosen transaction
// id so it can be cancelled later via CancelTransaction. Ids must not
// be reused while in flight.
func WithTransactionID(id string) TxOption {
	return func(o *txOptions) {
		o.id = id
	}
}

// mediate runs one fire-and-forget transport command to settlement: it
// registers a cancellation hook for txID, dispatches the command, then
// races the transport completion against forced cancellation and the
// caller's context. Whichever settles first wins; the loser's eventual
// outcome is discarded. Exactly one registry entry is created and
// removed per call, on every path.
func mediate[T any](m *Manager, ctx context.Context, txID string, dispatch func()) (T, error) {
	var zero T

	if m.destroyed.Load() {
		return zero, m.destroyedError()
	}

	cancelled := make(chan *transport.Error, 1)
	if err := m.registry.Register(txID, func(reason *transport.Error) {
		select {
		case cancelled <- reason:
		default:
		}
	}); err != nil {
		return zero, &transport.Error{Code: transport.CodeInvalidIdentifier, Reason: err.Error()}
	}

	// A torn-down registry fires the hook from inside Register. Catch
	// that before touching the transport.
	select {
	case reason := <-cancelled:
		return zero, m.describe(reason)
	default:
	}

	waiter := m.addWaiter(txID)
	defer m.removeWaiter(txID)

	dispatch()

	select {
	case c := <-waiter:
		m.registry.Unregister(txID)
		if c.Err != nil {
			return zero, m.describe(c.Err)
		}
		if c.Value == nil {
			return zero, nil
		}
		v, ok := c.Value.(T)
		if !ok {
			return zero, &transport.Error{
				Code:   transport.CodeUnknown,
				Reason: fmt.Sprintf("unexpected completion payload %T for transaction %s", c.Value, txID),
			}
		}
		return v, nil

	case reason := <-cancelled:
		// The hook fired: the registry already dropped the entry. Tell
		// the backend to abort; its completion, if any, lands in a
		// removed waiter and is discarded.
		m.t.Cancel(txID)
		return zero, m.describe(reason)

	case <-ctx.Done():
		m.registry.Unregister(txID)
		m.t.Cancel(txID)
		code := transport.CodeOperationCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = transport.CodeOperationTimedOut
		}
		return zero, m.describe(&transport.Error{Code: code, Reason: ctx.Err().Error()})
	}
}

// Connect establishes a connection to the peripheral and returns its
// summary.
func (m *Manager) Connect(ctx context.Context, deviceID string, copts *transport.ConnectOptions, opts ...TxOption) (*transport.Peripheral, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("connect", id, deviceID)).Debug("issuing operation")
	return mediate[*transport.Peripheral](m, ctx, id, func() {
		m.t.Connect(deviceID, copts, id)
	})
}

// Disconnect tears the peripheral connection down.
func (m *Manager) Disconnect(ctx context.Context, deviceID string, opts ...TxOption) error {
	id := m.txID(opts)
	m.logger.WithFields(logFields("disconnect", id, deviceID)).Debug("issuing operation")
	_, err := mediate[*transport.Peripheral](m, ctx, id, func() {
		m.t.Disconnect(deviceID, id)
	})
	return err
}

// DiscoverServices runs full service/characteristic discovery and
// returns the populated peripheral summary.
func (m *Manager) DiscoverServices(ctx context.Context, deviceID string, opts ...TxOption) (*transport.Peripheral, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("discover", id, deviceID)).Debug("issuing operation")
	return mediate[*transport.Peripheral](m, ctx, id, func() {
		m.t.DiscoverServices(deviceID, id)
	})
}

// Read reads a characteristic value.
func (m *Manager) Read(ctx context.Context, deviceID, serviceUUID, charUUID string, opts ...TxOption) (*transport.Characteristic, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("read", id, deviceID)).Debug("issuing operation")
	return mediate[*transport.Characteristic](m, ctx, id, func() {
		m.t.Read(deviceID, serviceUUID, charUUID, id)
	})
}

// Write writes payload to a characteristic. The payload crosses the
// transport base64-encoded; callers hand over raw frame bytes.
func (m *Manager) Write(ctx context.Context, deviceID, serviceUUID, charUUID string, payload []byte, withResponse bool, opts ...TxOption) (*transport.Characteristic, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("write", id, deviceID)).Debug("issuing operation")
	encoded := frame.EncodeBase64(payload)
	return mediate[*transport.Characteristic](m, ctx, id, func() {
		m.t.Write(deviceID, serviceUUID, charUUID, encoded, withResponse, id)
	})
}

// ReadRSSI reads the connection RSSI.
func (m *Manager) ReadRSSI(ctx context.Context, deviceID string, opts ...TxOption) (int, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("rssi", id, deviceID)).Debug("issuing operation")
	return mediate[int](m, ctx, id, func() {
		m.t.ReadRSSI(deviceID, id)
	})
}

// RequestMTU negotiates the ATT MTU and returns the granted value.
func (m *Manager) RequestMTU(ctx context.Context, deviceID string, mtu int, opts ...TxOption) (int, error) {
	id := m.txID(opts)
	m.logger.WithFields(logFields("mtu", id, deviceID)).Debug("issuing operation")
	return mediate[int](m, ctx, id, func() {
		m.t.RequestMTU(deviceID, mtu, id)
	})
}

// State reports the adapter radio state.
func (m *Manager) State(ctx context.Context, opts ...TxOption) (transport.State, error) {
	id := m.txID(opts)
	return mediate[transport.State](m, ctx, id, func() {
		m.t.ReadState(id)
	})
}

func logFields(op, txID, deviceID string) map[string]interface{} {
	return map[string]interface{}{
		"op":     op,
		"tx":     txID,
		"device": deviceID,
	}
}
