// Package manager implements the transaction-keyed mediation layer
// between callers and an asynchronous BLE transport.
//
// The transport completes commands and emits streams on shared channels
// tagged with transaction ids. The manager turns that into disciplined
// calls: every operation settles exactly once with a value or a
// structured error, can be cancelled by its transaction id, and every
// event stream is delivered to exactly the listener that asked for it.
// One Destroy tears the whole thing down: pending operations fail with
// a manager-destroyed error and no subscription survives.
package manager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/groutine"
	"github.com/srg/blemux/internal/transport"
	"github.com/srg/blemux/internal/txn"
)

const (
	// DefaultSubscriptionBuffer is the per-subscription ring capacity.
	// A listener that falls this far behind starts losing the oldest
	// events.
	DefaultSubscriptionBuffer = 128
)

// Options tunes a Manager.
type Options struct {
	// Messages overrides descriptions in the code->message table used
	// when a failure arrives without its own reason text.
	Messages transport.MessageTable

	// SubscriptionBuffer overrides DefaultSubscriptionBuffer.
	SubscriptionBuffer int

	// RestoreHandler, when set, receives state the platform preserved
	// across a backgrounded session. Called from the dispatch loop.
	RestoreHandler func(*transport.RestoredState)
}

// Manager mediates operations and subscriptions over one transport.
// Create with New, dispose with Destroy. All methods are safe for
// concurrent use.
type Manager struct {
	t        transport.Transport
	logger   *logrus.Logger
	registry *txn.Registry
	messages transport.MessageTable

	mu      sync.Mutex
	waiters map[string]chan transport.Completion
	subs    map[string]*Subscription

	devices *hashmap.Map[string, *transport.Advertisement]
	scanSub atomic.Pointer[Subscription]

	subBuffer      int
	restoreHandler func(*transport.RestoredState)

	destroyed atomic.Bool
	quit      chan struct{}
	pumpDone  chan struct{}
	wg        sync.WaitGroup
}

// New creates a Manager over t and starts its dispatch loop. The
// manager owns t from here on; Destroy closes it.
func New(t transport.Transport, logger *logrus.Logger, opts *Options) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &Manager{
		t:         t,
		logger:    logger,
		registry:  txn.NewRegistry(),
		messages:  transport.DefaultMessages(),
		waiters:   make(map[string]chan transport.Completion),
		subs:      make(map[string]*Subscription),
		devices:   hashmap.New[string, *transport.Advertisement](),
		subBuffer: DefaultSubscriptionBuffer,
		quit:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
	if opts != nil {
		for code, msg := range opts.Messages {
			m.messages[code] = msg
		}
		if opts.SubscriptionBuffer > 0 {
			m.subBuffer = opts.SubscriptionBuffer
		}
		m.restoreHandler = opts.RestoreHandler
	}

	groutine.Go(context.Background(), "manager-dispatch", func(context.Context) {
		m.runPump()
	})
	return m
}

// Destroy cancels every pending operation with a manager-destroyed
// error, force-removes every subscription, stops the dispatch loop and
// closes the transport. Idempotent. Must not be called from a listener
// callback; it waits for listener delivery to drain.
func (m *Manager) Destroy() error {
	if !m.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Debug("destroying manager")

	reason := transport.NewDestroyed()
	m.registry.CancelAll(reason)

	// Subscriptions the registry did not know about yet (local
	// listeners, starts in flight) go down with the ship too.
	m.mu.Lock()
	remaining := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		remaining = append(remaining, s)
	}
	m.mu.Unlock()
	for _, s := range remaining {
		switch s.category {
		case catNotify, catScan:
			// The transport is about to be closed; no point cancelling
			// each stream individually.
			s.fail(reason, false)
		default:
			s.removeSilently()
		}
	}

	m.wg.Wait()

	close(m.quit)
	<-m.pumpDone

	err := m.t.Close()
	m.logger.Debug("manager destroyed")
	return err
}

// Destroyed reports whether Destroy has run.
func (m *Manager) Destroyed() bool {
	return m.destroyed.Load()
}

// CancelTransaction force-cancels the operation or subscription that
// owns txID. Cancelling an unknown or already-settled transaction is a
// silent no-op.
func (m *Manager) CancelTransaction(txID string) {
	m.registry.CancelOne(txID, transport.NewCancelled(""))
}

// txID picks the caller-supplied transaction id or draws a fresh one.
func (m *Manager) txID(opts []TxOption) string {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.id != "" {
		return o.id
	}
	return m.registry.NextID()
}

// describe fills in the configured description for failures that arrive
// without reason text. Sentinels stay untouched; callers get a copy.
func (m *Manager) describe(err *transport.Error) *transport.Error {
	if err == nil || err.Reason != "" {
		return err
	}
	e := *err
	e.Reason = m.messages.Describe(e.Code)
	return &e
}

func (m *Manager) destroyedError() *transport.Error {
	return m.describe(transport.NewDestroyed())
}

// addWaiter claims the completion slot for txID.
func (m *Manager) addWaiter(txID string) chan transport.Completion {
	ch := make(chan transport.Completion, 1)
	m.mu.Lock()
	m.waiters[txID] = ch
	m.mu.Unlock()
	return ch
}

func (m *Manager) removeWaiter(txID string) {
	m.mu.Lock()
	delete(m.waiters, txID)
	m.mu.Unlock()
}

// attach inserts s into the active set and starts its delivery
// goroutine. Returns false when the manager was destroyed first; the
// destroyed check shares the lock with Destroy's sweep so a
// subscription can never slip in unseen.
func (m *Manager) attach(s *Subscription) bool {
	m.mu.Lock()
	if m.destroyed.Load() {
		m.mu.Unlock()
		return false
	}
	m.subs[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	groutine.Go(context.Background(), "subscription-"+s.id, func(context.Context) {
		defer m.wg.Done()
		s.deliverLoop()
	})
	return true
}

// detach removes s from the active set and reports whether it was still
// present. The first caller wins; everyone else backs off, which is
// what makes removal idempotent.
func (m *Manager) detach(id string) bool {
	m.mu.Lock()
	_, present := m.subs[id]
	if present {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	return present
}

// DiscoveredDevices returns a snapshot of every advertisement seen by
// scans since the manager was created, deduplicated by device id.
func (m *Manager) DiscoveredDevices() []*transport.Advertisement {
	devices := make([]*transport.Advertisement, 0, m.devices.Len())
	m.devices.Range(func(_ string, adv *transport.Advertisement) bool {
		devices = append(devices, adv)
		return true
	})
	return devices
}
