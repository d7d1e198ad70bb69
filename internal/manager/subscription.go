package manager

import (
	"context"
	"sync/atomic"

	"github.com/srg/blemux/internal/groutine"
	"github.com/srg/blemux/internal/ringchan"
	"github.com/srg/blemux/internal/transport"
)

type subCategory int

const (
	catNotify subCategory = iota
	catScan
	catDisconnect
	catState
)

const (
	subStarting int32 = iota
	subActive
	subRemoved
)

// NotificationListener receives characteristic updates for one monitor.
// A non-nil err is terminal: the subscription is removed right after
// the call.
type NotificationListener func(err *transport.Error, char *transport.Characteristic)

// ScanListener receives advertisements from a device scan. A non-nil
// err is terminal.
type ScanListener func(err *transport.Error, adv *transport.Advertisement)

// DisconnectListener receives peripheral disconnection events.
type DisconnectListener func(deviceID string, err *transport.Error)

// StateListener receives adapter state transitions.
type StateListener func(state transport.State)

// subEvent is one delivery unit queued for a subscription's listener.
type subEvent struct {
	err      *transport.Error
	char     *transport.Characteristic
	adv      *transport.Advertisement
	deviceID string
	state    transport.State
}

// failure carries a terminal error to the delivery goroutine.
// cancelTransport is set when the backend side is still live and has to
// be told to stop.
type failure struct {
	reason          *transport.Error
	cancelTransport bool
}

// Subscription is one registered listener on a shared transport stream.
// Events tagged with the subscription's transaction id (or matching its
// key, for untagged streams) are queued and delivered on a dedicated
// goroutine, so a slow listener never stalls the dispatch loop or other
// subscriptions.
//
// Removal is idempotent: however many times Remove, a terminal stream
// error and a transaction cancel race each other, the listener is torn
// down once and the transport told to stop at most once.
type Subscription struct {
	id       string
	category subCategory
	key      string

	mgr   *Manager
	queue *ringchan.RingChannel[subEvent]
	sink  func(subEvent)

	state    atomic.Int32
	failOnce atomic.Bool
	fate     atomic.Pointer[failure]
	failed   chan struct{}
	quit     chan struct{}
	done     chan struct{}
}

func newSubscription(m *Manager, id string, category subCategory, key string, sink func(subEvent)) *Subscription {
	return &Subscription{
		id:       id,
		category: category,
		key:      key,
		mgr:      m,
		queue:    ringchan.New[subEvent](m.subBuffer),
		sink:     sink,
		failed:   make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the transaction id the subscription is keyed by.
func (s *Subscription) ID() string {
	return s.id
}

// Done is closed once the subscription is fully removed, whatever the
// cause.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Remove detaches the listener and, for transport-backed streams,
// cancels the backend side. Safe to call any number of times and
// concurrently with a terminal error; only the first effective removal
// does any work.
func (s *Subscription) Remove() {
	s.teardown(s.category == catNotify || s.category == catScan)
}

// offer queues ev for delivery. Called only from the dispatch loop.
// Events arriving after a terminal failure or removal are dropped.
func (s *Subscription) offer(ev subEvent) {
	if s.failOnce.Load() || s.state.Load() == subRemoved {
		return
	}
	if s.queue.Send(ev) {
		s.mgr.logger.WithFields(map[string]interface{}{
			"tx": s.id,
		}).Debug("slow subscription listener, dropped oldest event")
	}
}

// fail delivers reason as the terminal event. The first failure wins;
// later ones are ignored. Delivery and teardown happen on the
// subscription's own goroutine.
func (s *Subscription) fail(reason *transport.Error, cancelTransport bool) {
	if !s.failOnce.CompareAndSwap(false, true) {
		return
	}
	s.fate.Store(&failure{reason: s.mgr.describe(reason), cancelTransport: cancelTransport})
	close(s.failed)
}

// finish ends the stream without an error and without telling the
// transport anything; the backend already stopped it.
func (s *Subscription) finish() {
	s.teardown(false)
}

// removeSilently tears the subscription down without delivering
// anything to the listener.
func (s *Subscription) removeSilently() {
	s.teardown(false)
}

// teardown is the single removal path. The manager's detach is the
// idempotency gate: whoever detaches first runs the rest, everyone else
// returns immediately.
func (s *Subscription) teardown(cancelTransport bool) {
	if !s.mgr.detach(s.id) {
		return
	}
	wasActive := s.state.Swap(subRemoved) == subActive
	s.mgr.registry.Unregister(s.id)
	if cancelTransport && wasActive {
		s.mgr.t.Cancel(s.id)
	}
	if s.category == catScan {
		s.mgr.scanSub.CompareAndSwap(s, nil)
	}
	close(s.quit)
	close(s.done)
	s.mgr.logger.WithFields(map[string]interface{}{
		"tx": s.id,
	}).Debug("subscription removed")
}

// deliverLoop drains the queue into the listener until the subscription
// is removed or fails. Runs on its own goroutine; the manager's
// Destroy waits for it.
func (s *Subscription) deliverLoop() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.failed:
			f := s.fate.Load()
			s.sink(subEvent{err: f.reason})
			s.teardown(f.cancelTransport)
			return
		case ev := <-s.queue.C():
			s.sink(ev)
		}
	}
}

// startTransportStream brings a transport-backed subscription (monitor
// or scan) to the Active state in the background: it mediates the start
// command, then re-registers the transaction id with a hook that routes
// cancellation into the stream. Start failures surface through the
// listener as a terminal error.
func (s *Subscription) startTransportStream(dispatch func()) {
	m := s.mgr
	_, err := mediate[struct{}](m, context.Background(), s.id, dispatch)
	if err != nil {
		var terr *transport.Error
		if e, ok := err.(*transport.Error); ok {
			terr = e
		} else {
			terr = &transport.Error{Code: transport.CodeOperationStartFailed, Reason: err.Error()}
		}
		s.fail(terr, false)
		return
	}

	if err := m.registry.Register(s.id, func(reason *transport.Error) {
		s.fail(reason, true)
	}); err != nil {
		s.fail(&transport.Error{Code: transport.CodeOperationStartFailed, Reason: err.Error()}, true)
		return
	}

	if !s.state.CompareAndSwap(subStarting, subActive) {
		// Removed while the start was in flight. The backend stream
		// came up after the fact; take it back down.
		m.registry.Unregister(s.id)
		m.t.Cancel(s.id)
		return
	}
	m.logger.WithFields(map[string]interface{}{
		"tx": s.id,
	}).Debug("subscription active")
}

// MonitorCharacteristic subscribes listener to value updates of one
// characteristic. The returned subscription is live immediately; the
// backend monitor is established in the background and any start
// failure arrives through the listener as a terminal error.
func (m *Manager) MonitorCharacteristic(deviceID, serviceUUID, charUUID string, listener NotificationListener, opts ...TxOption) (*Subscription, error) {
	if m.destroyed.Load() {
		return nil, m.destroyedError()
	}
	id := m.txID(opts)
	s := newSubscription(m, id, catNotify, charUUID, func(ev subEvent) {
		listener(ev.err, ev.char)
	})
	if !m.attach(s) {
		return nil, m.destroyedError()
	}
	m.logger.WithFields(logFields("monitor", id, deviceID)).Debug("starting subscription")
	groutine.Go(context.Background(), "monitor-start-"+id, func(context.Context) {
		s.startTransportStream(func() {
			m.t.Monitor(deviceID, serviceUUID, charUUID, id)
		})
	})
	return s, nil
}

// StartDeviceScan begins scanning for advertisements, optionally
// filtered by service UUIDs. Only one scan may run at a time.
// allowDuplicates asks the backend to report repeat sightings of the
// same peripheral instead of deduplicating them.
func (m *Manager) StartDeviceScan(serviceUUIDs []string, allowDuplicates bool, listener ScanListener, opts ...TxOption) (*Subscription, error) {
	if m.destroyed.Load() {
		return nil, m.destroyedError()
	}
	id := m.txID(opts)
	s := newSubscription(m, id, catScan, "", func(ev subEvent) {
		listener(ev.err, ev.adv)
	})
	if !m.scanSub.CompareAndSwap(nil, s) {
		return nil, &transport.Error{Code: transport.CodeOperationStartFailed, Reason: "a device scan is already running"}
	}
	if !m.attach(s) {
		m.scanSub.CompareAndSwap(s, nil)
		return nil, m.destroyedError()
	}
	m.logger.WithFields(logFields("scan", id, "")).Debug("starting subscription")
	groutine.Go(context.Background(), "scan-start-"+id, func(context.Context) {
		s.startTransportStream(func() {
			m.t.Scan(serviceUUIDs, allowDuplicates, id)
		})
	})
	return s, nil
}

// StopDeviceScan stops the running scan, if any.
func (m *Manager) StopDeviceScan() {
	if s := m.scanSub.Load(); s != nil {
		s.Remove()
	}
}

// OnDisconnected registers listener for disconnection events. With a
// non-empty deviceID only that peripheral's events are delivered;
// empty matches every peripheral. Purely local: nothing is sent to the
// transport, and at Destroy the listener is dropped without a
// callback.
func (m *Manager) OnDisconnected(deviceID string, listener DisconnectListener) (*Subscription, error) {
	if m.destroyed.Load() {
		return nil, m.destroyedError()
	}
	s := newSubscription(m, m.registry.NextID(), catDisconnect, deviceID, func(ev subEvent) {
		listener(ev.deviceID, ev.err)
	})
	s.state.Store(subActive)
	if !m.attach(s) {
		return nil, m.destroyedError()
	}
	return s, nil
}

// OnStateChange registers listener for adapter state transitions.
// Purely local, like OnDisconnected.
func (m *Manager) OnStateChange(listener StateListener) (*Subscription, error) {
	if m.destroyed.Load() {
		return nil, m.destroyedError()
	}
	s := newSubscription(m, m.registry.NextID(), catState, "", func(ev subEvent) {
		listener(ev.state)
	})
	s.state.Store(subActive)
	if !m.attach(s) {
		return nil, m.destroyedError()
	}
	return s, nil
}
