// Package goble is the production transport backend over the go-ble
// stack. Every dispatch runs on its own labeled goroutine and settles
// exactly one completion; notifications, scan reports, disconnections
// and adapter state transitions land on the shared event channels the
// abstract contract defines.
//
// The platform radio is created lazily behind the DeviceFactory
// variable, so the first command that needs it pays the CoreBluetooth
// power-up cost and tests can swap the factory out entirely.
package goble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/groutine"
	"github.com/srg/blemux/internal/transport"
)

const (
	// eventBuffer sizes the shared event channels. The mediation layer
	// drains them continuously; the buffer only absorbs bursts.
	eventBuffer = 256

	// defaultConnectTimeout bounds dialing when ConnectOptions carries
	// no timeout of its own.
	defaultConnectTimeout = 30 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// monitor is one live notification subscription.
type monitor struct {
	deviceID    string
	serviceUUID string
	charUUID    string
	conn        *conn
	char        *ble.Characteristic
	indicate    bool
}

// Transport drives a real radio through go-ble. Create with New,
// dispose with Close. All methods are safe for concurrent use.
//
// This backend never emits state-restore events: go-ble has no notion
// of a platform reviving a backgrounded session.
type Transport struct {
	logger *logrus.Logger

	completions    chan transport.Completion
	notifications  chan transport.Notification
	scans          chan transport.ScanResult
	disconnections chan transport.Disconnection
	states         chan transport.StateChange
	restores       chan transport.StateRestore

	// eventMu serializes event emission against channel close. Emitters
	// hold it shared, Close holds it exclusively, so no send can race
	// the close and dispatches after Close are silently ignored.
	eventMu sync.RWMutex
	closed  bool

	mu         sync.Mutex
	dev        ble.Device
	stateKnown bool
	lastState  transport.State
	conns      map[string]*conn
	inflight   map[string]context.CancelFunc
	monitors   map[string]*monitor
	scanTx     string
	scanStop   context.CancelFunc
}

// New returns a Transport ready to dispatch. The radio itself is not
// touched until the first command that needs it.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		logger:         logger,
		completions:    make(chan transport.Completion, eventBuffer),
		notifications:  make(chan transport.Notification, eventBuffer),
		scans:          make(chan transport.ScanResult, eventBuffer),
		disconnections: make(chan transport.Disconnection, eventBuffer),
		states:         make(chan transport.StateChange, eventBuffer),
		restores:       make(chan transport.StateRestore, eventBuffer),
		conns:          make(map[string]*conn),
		inflight:       make(map[string]context.CancelFunc),
		monitors:       make(map[string]*monitor),
	}
}

func (t *Transport) Completions() <-chan transport.Completion       { return t.completions }
func (t *Transport) Notifications() <-chan transport.Notification   { return t.notifications }
func (t *Transport) ScanResults() <-chan transport.ScanResult       { return t.scans }
func (t *Transport) Disconnections() <-chan transport.Disconnection { return t.disconnections }
func (t *Transport) StateChanges() <-chan transport.StateChange     { return t.states }
func (t *Transport) StateRestores() <-chan transport.StateRestore   { return t.restores }

// Close aborts in-flight operations, retires monitors, drops every
// link, stops the radio and closes the event channels. Safe to call
// twice.
func (t *Transport) Close() error {
	t.eventMu.Lock()
	if t.closed {
		t.eventMu.Unlock()
		return nil
	}
	t.closed = true
	t.eventMu.Unlock()

	t.mu.Lock()
	for _, cancel := range t.inflight {
		cancel()
	}
	t.inflight = make(map[string]context.CancelFunc)
	if t.scanStop != nil {
		t.scanStop()
		t.scanStop = nil
		t.scanTx = ""
	}
	monitors := t.monitors
	t.monitors = make(map[string]*monitor)
	conns := t.conns
	t.conns = make(map[string]*conn)
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	for _, m := range monitors {
		if err := m.conn.client.Unsubscribe(m.char, m.indicate); err != nil {
			t.logger.WithFields(logrus.Fields{"char": m.charUUID, "error": err}).Debug("unsubscribe during close failed")
		}
	}
	for _, c := range conns {
		c.shutdown()
		if err := c.client.CancelConnection(); err != nil {
			t.logger.WithFields(logrus.Fields{"device": c.deviceID, "error": err}).Debug("disconnect during close failed")
		}
	}
	if dev != nil {
		if err := dev.Stop(); err != nil {
			t.logger.WithField("error", err).Debug("radio stop failed")
		}
	}

	t.eventMu.Lock()
	close(t.completions)
	close(t.notifications)
	close(t.scans)
	close(t.disconnections)
	close(t.states)
	close(t.restores)
	t.eventMu.Unlock()

	t.logger.Debug("ble transport closed")
	return nil
}

// Cancel aborts the in-flight operation or live stream owned by txID.
// Unknown ids are a no-op. The teardown is silent: a cancelled monitor
// or scan emits nothing further under that id.
func (t *Transport) Cancel(txID string) {
	if t.isClosed() {
		return
	}
	t.mu.Lock()
	cancel := t.inflight[txID]
	delete(t.inflight, txID)
	m := t.monitors[txID]
	delete(t.monitors, txID)
	var stop context.CancelFunc
	if t.scanTx == txID {
		stop = t.scanStop
		t.scanTx = ""
		t.scanStop = nil
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		stop()
	}
	if m != nil {
		if err := m.conn.client.Unsubscribe(m.char, m.indicate); err != nil {
			t.logger.WithFields(logrus.Fields{"tx": txID, "char": m.charUUID, "error": err}).Debug("unsubscribe failed")
		}
	}
}

// run executes one dispatch off the caller's goroutine and settles
// exactly one completion for txID. Cancel(txID) aborts the operation's
// context; operations racing Close never emit.
func (t *Transport) run(txID, label string, op func(ctx context.Context) (any, *transport.Error)) {
	if t.isClosed() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.inflight[txID] = cancel
	t.mu.Unlock()

	groutine.Go(ctx, label, func(ctx context.Context) {
		value, terr := op(ctx)
		t.mu.Lock()
		delete(t.inflight, txID)
		t.mu.Unlock()
		cancel()
		t.emitCompletion(transport.Completion{TxID: txID, Value: value, Err: terr})
	})
}

func (t *Transport) isClosed() bool {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	return t.closed
}

func (t *Transport) emitCompletion(c transport.Completion) {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	if !t.closed {
		t.completions <- c
	}
}

func (t *Transport) emitNotification(n transport.Notification) {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	if !t.closed {
		t.notifications <- n
	}
}

func (t *Transport) emitScan(r transport.ScanResult) {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	if !t.closed {
		t.scans <- r
	}
}

func (t *Transport) emitDisconnection(d transport.Disconnection) {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	if !t.closed {
		t.disconnections <- d
	}
}

func (t *Transport) emitState(s transport.StateChange) {
	t.eventMu.RLock()
	defer t.eventMu.RUnlock()
	if !t.closed {
		t.states <- s
	}
}

// device returns the lazily created radio. Success is cached for the
// lifetime of the transport; a failure is reported but retried on the
// next call, so a radio that powers on later still becomes usable.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	if t.dev != nil {
		dev := t.dev
		t.mu.Unlock()
		return dev, nil
	}
	t.mu.Unlock()

	dev, err := DeviceFactory()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.announceState(stateFromError(err))
		return nil, err
	}
	if t.dev != nil {
		// Another dispatch won the creation race; release the surplus
		// radio off the lock.
		surplus := dev
		groutine.Go(context.Background(), "ble-surplus-radio-stop", func(context.Context) {
			if err := surplus.Stop(); err != nil {
				t.logger.WithField("error", err).Debug("surplus radio stop failed")
			}
		})
		return t.dev, nil
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	t.announceState(transport.StatePoweredOn)
	return dev, nil
}

// announceState pushes a transition event when the derived adapter
// state actually moved. Called with mu held.
func (t *Transport) announceState(s transport.State) {
	if t.stateKnown && t.lastState == s {
		return
	}
	t.stateKnown = true
	t.lastState = s
	t.emitState(transport.StateChange{State: s})
}

// stateFromError classifies a radio construction failure into the
// adapter state it reveals. The darwin backend reports powered-off as
// an invalid central manager state asking "is Bluetooth turned on?".
func stateFromError(err error) transport.State {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unsupported"), strings.Contains(msg, "not supported"):
		return transport.StateUnsupported
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"):
		return transport.StateUnauthorized
	case strings.Contains(msg, "powered off"),
		strings.Contains(msg, "turned off"),
		strings.Contains(msg, "is bluetooth turned on"):
		return transport.StatePoweredOff
	case strings.Contains(msg, "resetting"):
		return transport.StateResetting
	}
	return transport.StateUnknown
}

// adapterError wraps a radio construction failure as a structured
// dispatch failure.
func adapterError(err error) *transport.Error {
	code := transport.CodeOperationStartFailed
	switch stateFromError(err) {
	case transport.StateUnsupported:
		code = transport.CodeAdapterUnsupported
	case transport.StateUnauthorized:
		code = transport.CodeAdapterUnauthorized
	case transport.StatePoweredOff:
		code = transport.CodeAdapterPoweredOff
	}
	return &transport.Error{Code: code, Reason: err.Error()}
}

// connKey folds device ids case-insensitively; peripherals advertise
// MAC addresses in whatever case the platform felt like.
func connKey(deviceID string) string { return strings.ToUpper(deviceID) }

func (t *Transport) lookupConn(deviceID string) *conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[connKey(deviceID)]
}

// takeConn removes and returns the link, nil when not connected.
func (t *Transport) takeConn(deviceID string) *conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := connKey(deviceID)
	c := t.conns[key]
	delete(t.conns, key)
	return c
}

// registerConn adds a fresh link unless the transport closed or the
// device connected concurrently.
func (t *Transport) registerConn(c *conn) *transport.Error {
	if t.isClosed() {
		return transport.NewCancelled("transport closed")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := connKey(c.deviceID)
	if _, ok := t.conns[key]; ok {
		return &transport.Error{
			Code:   transport.CodeDeviceAlreadyConnected,
			Reason: "device " + c.deviceID + " is already connected",
		}
	}
	t.conns[key] = c
	return nil
}

// dropConn removes the link only while it is still the registered one,
// so a stale disconnect watcher cannot evict a reconnected device.
func (t *Transport) dropConn(c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := connKey(c.deviceID)
	if t.conns[key] != c {
		return false
	}
	delete(t.conns, key)
	return true
}

// watchDisconnect reacts to the platform reporting a dropped link. The
// darwin client exposes a Disconnected channel; on platforms without
// one, link loss surfaces through the next failing operation instead.
func (t *Transport) watchDisconnect(c *conn) {
	dc, ok := c.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.WithField("device", c.deviceID).Debug("client has no disconnect channel")
		return
	}
	groutine.Go(context.Background(), "ble-disconnect-watch", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if !t.dropConn(c) {
				return
			}
			c.shutdown()
			t.logger.WithField("device", c.deviceID).Warn("peripheral link dropped")
			lost := &transport.Error{
				Code:   transport.CodeDeviceDisconnected,
				Reason: "device " + c.deviceID + " disconnected",
			}
			t.endMonitors(c.deviceID, lost)
			t.emitDisconnection(transport.Disconnection{DeviceID: c.deviceID, Err: lost})
		case <-c.done:
		}
	})
}

// endMonitors retires every monitor on the device. A nil err ends each
// stream with a normal Done event, non-nil with the failure.
func (t *Transport) endMonitors(deviceID string, terr *transport.Error) {
	key := connKey(deviceID)
	t.mu.Lock()
	var ended []string
	for id, m := range t.monitors {
		if connKey(m.deviceID) != key {
			continue
		}
		delete(t.monitors, id)
		ended = append(ended, id)
	}
	t.mu.Unlock()
	for _, id := range ended {
		t.emitNotification(transport.Notification{TxID: id, Err: terr, Done: terr == nil})
	}
}

func notConnectedErr(deviceID string) *transport.Error {
	return &transport.Error{
		Code:   transport.CodeDeviceNotConnected,
		Reason: "device " + deviceID + " is not connected",
	}
}
