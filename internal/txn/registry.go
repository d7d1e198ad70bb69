// Package txn tracks in-flight transaction ids and their cancellation
// hooks for a single manager instance.
package txn

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/srg/blemux/internal/transport"
)

// CancelFunc is a transaction's cancellation hook. It is invoked at most
// once, with the structured error explaining why the transaction was
// force-cancelled.
type CancelFunc func(reason *transport.Error)

// Registry assigns monotonically increasing transaction ids and records
// one cancellation hook per in-flight operation. A registry belongs to
// exactly one manager. It is torn down once, via CancelAll; afterwards
// every new registration is cancelled on arrival with the teardown
// error, so work racing the teardown can never dangle.
type Registry struct {
	seq atomic.Uint64

	mu        sync.Mutex
	hooks     map[string]CancelFunc
	destroyed bool
	teardown  *transport.Error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]CancelFunc)}
}

// NextID returns a fresh identifier, never issued before by this
// registry. Safe to call concurrently with registration and completion.
func (r *Registry) NextID() string {
	return strconv.FormatUint(r.seq.Add(1), 10)
}

// Register records the cancellation hook for id.
//
// If the registry is already destroyed the hook fires immediately with
// the teardown error and the registration is not recorded. Registering
// an id that is still in flight is refused; ids must not be reused
// before they settle.
func (r *Registry) Register(id string, cancel CancelFunc) error {
	r.mu.Lock()
	if r.destroyed {
		reason := r.teardown
		r.mu.Unlock()
		if reason == nil {
			reason = transport.NewDestroyed()
		}
		cancel(reason)
		return nil
	}
	if _, exists := r.hooks[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("transaction %s is already in flight", id)
	}
	r.hooks[id] = cancel
	r.mu.Unlock()
	return nil
}

// Unregister removes the hook for id without invoking it. Called when
// the operation settles on its own. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.hooks, id)
	r.mu.Unlock()
}

// CancelOne fires and removes the hook for id. Cancelling an unknown or
// already-settled transaction is a silent no-op, never an error.
func (r *Registry) CancelOne(id string, reason *transport.Error) {
	r.mu.Lock()
	cancel, ok := r.hooks[id]
	if ok {
		delete(r.hooks, id)
	}
	r.mu.Unlock()
	if ok {
		cancel(reason)
	}
}

// CancelAll fires every registered hook with reason, clears the registry
// and marks it destroyed. Hooks run outside the registry lock, so they
// may call back into the registry freely. Subsequent CancelAll calls are
// no-ops.
func (r *Registry) CancelAll(reason *transport.Error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.teardown = reason
	hooks := make([]CancelFunc, 0, len(r.hooks))
	for _, cancel := range r.hooks {
		hooks = append(hooks, cancel)
	}
	r.hooks = nil
	r.mu.Unlock()

	for _, cancel := range hooks {
		cancel(reason)
	}
}

// Destroyed reports whether CancelAll has run.
func (r *Registry) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// InFlight returns the number of registered transactions.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
