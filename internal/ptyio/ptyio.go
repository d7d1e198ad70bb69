// Package ptyio exposes a pseudo-terminal pair behind a non-blocking,
// ring-buffered port. Bytes written to the Port surface on the tty device;
// bytes an application writes to the tty come back through Read or the
// registered data callback. Both directions evict the oldest buffered data
// instead of blocking when a peer stalls, so a slow terminal client never
// stalls the device side.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blemux/internal/groutine"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultReadBuffer   = 4096
	defaultWriteBuffer  = 65536

	pumpChunk     = 4096
	dispatchBatch = 16
	closeGrace    = 5 * time.Second
)

// DataFunc receives bytes an application wrote to the tty. It runs on a
// background goroutine; the slice is owned by the callback.
type DataFunc func(data []byte)

// Options configures Open. The zero value is usable.
type Options struct {
	// ReadBufferSize buffers bytes arriving from the tty until the consumer
	// drains them. Defaults to 4096.
	ReadBufferSize int
	// WriteBufferSize buffers bytes headed to the tty. Defaults to 65536.
	WriteBufferSize int
	// PollInterval bounds how long the pumps wait for tty readiness before
	// rechecking shutdown. Defaults to 50ms, minimum 1ms.
	PollInterval time.Duration
	Logger       *logrus.Logger
	// OnFault is invoked at most once, from a background goroutine, when a
	// pump dies on an unrecoverable error. The port should be closed then.
	OnFault func(error)
}

// Port is a non-blocking view of the master side of a pseudo-terminal.
//
// Write queues bytes for the tty and never blocks: when the outbound buffer
// is full the oldest queued bytes are evicted to make room, so Write always
// reports the full input length. Read drains bytes the tty produced and
// returns syscall.EAGAIN when none are buffered.
type Port interface {
	io.ReadWriteCloser

	// Name returns the tty device path, e.g. /dev/pts/3.
	Name() string

	// OnData registers cb for asynchronous delivery of tty input. While a
	// callback is registered it consumes the buffer that Read drains from;
	// pass nil to unregister.
	OnData(cb DataFunc)

	Stats() Stats
}

// Stats is a snapshot of port counters.
type Stats struct {
	WriteQueued   int // bytes waiting to reach the tty
	WriteCapacity int
	ReadQueued    int // bytes the tty produced, not yet consumed
	ReadCapacity  int

	WriteDropped uint64 // oldest outbound bytes evicted on overflow
	ReadDropped  uint64 // oldest inbound bytes evicted on overflow
	WriteTotal   uint64 // bytes delivered to the tty
	ReadTotal    uint64 // bytes received from the tty
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type port struct {
	logger *logrus.Logger
	master *os.File
	slave  *os.File
	name   string
	poll   time.Duration

	toTTY   *ringbuffer.RingBuffer // Write -> writePump -> master
	fromTTY *ringbuffer.RingBuffer // readPump -> Read / dispatchPump

	writeMu sync.Mutex // serializes stash on toTTY

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dataCb    atomic.Value // DataFunc
	wakeRead  chan struct{}
	wakeWrite chan struct{}

	closed    atomic.Bool
	onFault   func(error)
	faultOnce sync.Once

	readDropped  atomic.Uint64
	writeDropped atomic.Uint64
	readTotal    atomic.Uint64
	writeTotal   atomic.Uint64
}

var _ Port = (*port)(nil)

// Open allocates a pseudo-terminal pair, puts the tty into raw mode and
// starts the pump goroutines. The slave stays open for the lifetime of the
// port so the device node outlives clients that come and go.
func Open(opts Options) (Port, error) {
	master, slave, err := openPair()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	readCap := opts.ReadBufferSize
	if readCap <= 0 {
		readCap = defaultReadBuffer
	}
	writeCap := opts.WriteBufferSize
	if writeCap <= 0 {
		writeCap = defaultWriteBuffer
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if poll < time.Millisecond {
		poll = time.Millisecond
	}

	p := &port{
		logger:    logger,
		master:    master,
		slave:     slave,
		name:      slave.Name(),
		poll:      poll,
		toTTY:     ringbuffer.New(writeCap),
		fromTTY:   ringbuffer.New(readCap),
		onFault:   opts.OnFault,
		wakeRead:  make(chan struct{}, 1),
		wakeWrite: make(chan struct{}, 1),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(3)
	groutine.Go(p.ctx, "pty-read-pump", func(context.Context) { p.readPump() })
	groutine.Go(p.ctx, "pty-write-pump", func(context.Context) { p.writePump() })
	groutine.Go(p.ctx, "pty-dispatch", func(context.Context) { p.dispatchPump() })

	logger.WithField("tty", p.name).Debug("pty port opened")
	return p, nil
}

func openPair() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pty pair: %w", err)
	}
	if _, err = term.MakeRaw(int(slave.Fd())); err != nil {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("set %s raw: %w", name, err)
	}
	if err = syscall.SetNonblock(int(master.Fd()), true); err != nil {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("set %s master non-blocking: %w", name, err)
	}
	return master, slave, nil
}

func (p *port) Name() string { return p.name }

// Write queues data for the tty. The oldest queued bytes are evicted when
// the buffer cannot hold the input, so n always equals len(data); evictions
// show up in Stats().WriteDropped.
func (p *port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	p.writeMu.Lock()
	evicted := stash(p.toTTY, data)
	p.writeMu.Unlock()

	if evicted > 0 {
		p.writeDropped.Add(uint64(evicted))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.name,
			"evicted": evicted,
		}).Warn("outbound pty buffer overflow, oldest bytes dropped")
	}
	p.wake(p.wakeWrite)
	return len(data), nil
}

// Read drains up to len(b) buffered tty bytes. Returns syscall.EAGAIN when
// nothing is buffered.
func (p *port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.fromTTY.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *port) OnData(cb DataFunc) {
	if p.closed.Load() {
		return
	}
	p.dataCb.Store(cb)
	// Buffered input predating the registration is delivered right away.
	p.wake(p.wakeRead)
}

func (p *port) Stats() Stats {
	return Stats{
		WriteQueued:   p.toTTY.Length(),
		WriteCapacity: p.toTTY.Capacity(),
		ReadQueued:    p.fromTTY.Length(),
		ReadCapacity:  p.fromTTY.Capacity(),
		WriteDropped:  p.writeDropped.Load(),
		ReadDropped:   p.readDropped.Load(),
		WriteTotal:    p.writeTotal.Load(),
		ReadTotal:     p.readTotal.Load(),
	}
}

// Close stops the pumps and releases both sides of the pair. Safe to call
// more than once.
func (p *port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	if err := p.master.Close(); err != nil {
		p.logger.WithError(err).Warn("close pty master")
	}
	if err := p.slave.Close(); err != nil {
		p.logger.WithError(err).Warn("close pty slave")
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(closeGrace):
		// Pumps self-terminate within one poll interval of the cancel; they
		// are only unaccounted for, not leaked forever.
		p.logger.WithField("tty", p.name).Error("pty pumps did not stop in time")
	}
	return nil
}

// stash queues data on rb, evicting the oldest buffered bytes when capacity
// is short. Input longer than the ring keeps only its tail. Returns the
// number of bytes evicted. Callers serialize writers per ring; the drain
// side only frees space, so concurrent reads never make room disappear.
func stash(rb *ringbuffer.RingBuffer, data []byte) int {
	evicted := 0
	if over := len(data) - rb.Capacity(); over > 0 {
		evicted += over
		data = data[over:]
	}
	if short := rb.Length() + len(data) - rb.Capacity(); short > 0 {
		scratch := make([]byte, short)
		n, _ := rb.TryRead(scratch)
		evicted += n
	}
	n, err := rb.Write(data)
	if err != nil || n < len(data) {
		// Only reachable if a second writer slipped in; count the remainder
		// as evicted rather than blocking.
		evicted += len(data) - n
	}
	return evicted
}

func (p *port) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *port) fault(err error) {
	p.logger.WithError(err).WithField("tty", p.name).Warn("pty pump failed")
	if p.onFault == nil {
		return
	}
	p.faultOnce.Do(func() { p.onFault(err) })
}

func (p *port) pollMs() int {
	return int(p.poll / time.Millisecond)
}

// readPump moves bytes from the master into the inbound ring and wakes the
// dispatcher.
func (p *port) readPump() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, pumpChunk)

	for {
		if p.ctx.Err() != nil {
			return
		}
		ready, err := unix.Poll(pollFd, p.pollMs())
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("pty read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			p.readTotal.Add(uint64(n))
			if evicted := stash(p.fromTTY, buf[:n]); evicted > 0 {
				p.readDropped.Add(uint64(evicted))
				p.logger.WithFields(logrus.Fields{
					"tty":     p.name,
					"evicted": evicted,
				}).Warn("inbound pty buffer overflow, oldest bytes dropped")
			}
			p.wake(p.wakeRead)
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				p.logger.WithField("tty", p.name).Debug("pty read pump stopped")
				return
			default:
				p.fault(fmt.Errorf("pty read: %w", err))
				return
			}
		}
	}
}

// writePump drains the outbound ring into the master, waiting out EAGAIN
// with poll.
func (p *port) writePump() {
	defer p.wg.Done()

	master := p.master
	fd := int32(master.Fd())
	buf := make([]byte, pumpChunk)

	for {
		if p.ctx.Err() != nil {
			return
		}
		if p.toTTY.IsEmpty() {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wakeWrite:
			case <-time.After(p.poll):
			}
		}
		n, err := p.toTTY.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("drain outbound pty buffer")
			continue
		}
		if n == 0 {
			continue
		}
		if !p.flush(master, fd, buf[:n]) {
			return
		}
	}
}

// flush pushes chunk to the master in full, or reports the pump should stop.
func (p *port) flush(master *os.File, fd int32, chunk []byte) bool {
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLOUT}}
	off := 0
	for off < len(chunk) {
		if p.ctx.Err() != nil {
			return false
		}
		n, err := master.Write(chunk[off:])
		if n > 0 {
			off += n
			p.writeTotal.Add(uint64(n))
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EAGAIN):
			if _, perr := unix.Poll(pollFd, p.pollMs()); perr != nil && !errors.Is(perr, syscall.EINTR) {
				p.logger.WithError(perr).Warn("pty write poll failed")
			}
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
			p.logger.WithField("tty", p.name).Debug("pty write pump stopped")
			return false
		default:
			p.fault(fmt.Errorf("pty write: %w", err))
			return false
		}
	}
	return true
}

// dispatchPump hands buffered tty input to the registered callback in
// chunks, yielding between batches so a hot stream cannot starve peers.
func (p *port) dispatchPump() {
	defer p.wg.Done()

	buf := make([]byte, pumpChunk)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wakeRead:
		}
		for served := 0; ; served++ {
			if p.ctx.Err() != nil {
				return
			}
			cb, _ := p.dataCb.Load().(DataFunc)
			if cb == nil {
				break
			}
			n, _ := p.fromTTY.TryRead(buf)
			if n == 0 {
				break
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !p.invoke(cb, chunk) {
				break
			}
			if served%dispatchBatch == dispatchBatch-1 {
				runtime.Gosched()
			}
		}
	}
}

// invoke runs cb, unregistering it if it panics so a broken consumer cannot
// take the dispatcher down repeatedly.
func (p *port) invoke(cb DataFunc, chunk []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("pty data callback panicked, unregistering")
			p.dataCb.Store(DataFunc(nil))
			p.fault(fmt.Errorf("pty data callback panic: %v", r))
			ok = false
		}
	}()
	cb(chunk)
	return true
}
