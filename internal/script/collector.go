package script

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Collector lifecycle states.
const (
	collectorIdle uint32 = iota
	collectorRunning
	collectorStopping
)

// MaxCollectorBuffer caps the ring size to guard against a mistyped
// configuration.
const MaxCollectorBuffer uint32 = 1 << 20

// CollectorMetrics counts collector traffic. All fields are maintained
// atomically.
type CollectorMetrics struct {
	Processed   atomic.Int64
	Errors      atomic.Int64
	Overwritten atomic.Int64
}

// Snapshot returns the current counter values.
func (m *CollectorMetrics) Snapshot() (processed, errors, overwritten int64) {
	return m.Processed.Load(), m.Errors.Load(), m.Overwritten.Load()
}

// Collector gathers output records from a running script into an
// overwriting ring buffer, for hosts that want the output after the
// fact rather than streamed. When the ring fills, the oldest records
// are overwritten and counted.
//
// All methods are safe for concurrent use.
type Collector struct {
	ch      <-chan OutputRecord
	buffer  mpmc.RichOverlappedRingBuffer[OutputRecord]
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
	metrics CollectorMetrics
	state   atomic.Uint32
}

// NewCollector creates a collector over the engine's output channel.
// onError is called for collection faults; nil panics on fault.
func NewCollector(ch <-chan OutputRecord, bufferSize uint32, onError func(error)) (*Collector, error) {
	if ch == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxCollectorBuffer {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxCollectorBuffer)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("script collector: %v", err))
		}
	}

	return &Collector{
		ch:      ch,
		buffer:  mpmc.NewOverlappedRingBuffer[OutputRecord](bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
	}, nil
}

// Start begins collecting. It blocks until the collector goroutine is
// up and errors when already running.
func (c *Collector) Start() error {
	if !c.state.CompareAndSwap(collectorIdle, collectorRunning) {
		switch c.state.Load() {
		case collectorRunning:
			return fmt.Errorf("collector is already running")
		case collectorStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", c.state.Load())
		}
	}

	// Fresh channels per cycle so a restart cannot close a closed
	// channel.
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	started := make(chan struct{}, 1)

	go func() {
		started <- struct{}{}
		defer func() {
			close(c.done)
			c.state.Store(collectorIdle)
		}()
		for {
			select {
			case <-c.stop:
				return
			case rec, ok := <-c.ch:
				if !ok {
					return
				}
				overwrites, err := c.buffer.EnqueueM(rec)
				if err != nil {
					c.metrics.Errors.Add(1)
					c.onError(fmt.Errorf("collector enqueue: %w", err))
					return
				}
				c.metrics.Overwritten.Add(int64(overwrites))
				c.metrics.Processed.Add(1)
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(1 * time.Second):
		close(c.stop)
		<-c.done
		return fmt.Errorf("collector failed to start within 1s")
	}
}

// Stop halts collection. Stopping an idle collector is a no-op.
func (c *Collector) Stop() error {
	if !c.state.CompareAndSwap(collectorRunning, collectorStopping) {
		switch c.state.Load() {
		case collectorIdle:
			return nil
		case collectorStopping:
			// Fall through to wait for the goroutine.
		default:
			return fmt.Errorf("collector is in unknown state %d", c.state.Load())
		}
	} else {
		close(c.stop)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("stop exceeded 5s, possible slow consumer")
	}
}

// Metrics exposes the traffic counters.
func (c *Collector) Metrics() *CollectorMetrics {
	return &c.metrics
}

// Drain empties the buffered records in arrival order, handing each to
// fn. fn returning an error stops the drain.
func (c *Collector) Drain(fn func(OutputRecord) error) error {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return fmt.Errorf("collector dequeue: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ConsumePlainText drains everything buffered and concatenates the
// record contents, dropping timestamps and source labels.
func (c *Collector) ConsumePlainText() (string, error) {
	var sb strings.Builder
	err := c.Drain(func(r OutputRecord) error {
		sb.WriteString(r.Content)
		return nil
	})
	return sb.String(), err
}
