// Package ringchan provides a bounded channel with drop-oldest overflow
// semantics, used to decouple event dispatch from slow consumers.
package ringchan

import "sync/atomic"

// RingChannel is a channel-like buffer that never blocks its producer:
// when the buffer is full the oldest element is discarded to make room.
// A subscription's delivery queue uses one so a stalled listener costs
// old events, not dispatcher throughput.
//
// Producers call Send/TrySend; consumers either range over C() or call
// Receive/TryReceive when they want the Delivered metric maintained.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range
// over it until Close. Reads through C bypass the Delivered metric.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v without blocking, discarding the oldest buffered
// element when full. It reports whether an element was dropped.
//
// With a single producer per channel this never blocks; concurrent
// producers can race the freed slot and briefly block each other.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			rc.metrics.addDropped(1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	rc.metrics.addPublished(1)
	return dropped
}

// TrySend attempts a non-blocking insert and reports whether it fit.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.addPublished(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
// ok is false once closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addDelivered(1)
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addDelivered(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Send after Close panics, as with any
// channel.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Snapshot returns the current metric values.
func (rc *RingChannel[T]) Snapshot() Metrics {
	return Metrics{
		Published: atomic.LoadInt64(&rc.metrics.Published),
		Delivered: atomic.LoadInt64(&rc.metrics.Delivered),
		Dropped:   atomic.LoadInt64(&rc.metrics.Dropped),
	}
}

// Metrics counts ring traffic. All fields are maintained atomically.
type Metrics struct {
	Published int64
	Delivered int64
	Dropped   int64
}

func (m *Metrics) addPublished(n int) {
	atomic.AddInt64(&m.Published, int64(n))
}

func (m *Metrics) addDelivered(n int) {
	atomic.AddInt64(&m.Delivered, int64(n))
}

func (m *Metrics) addDropped(n int) {
	atomic.AddInt64(&m.Dropped, int64(n))
}
