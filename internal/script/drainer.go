package script

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/groutine"
)

// finalDrainTimeout bounds the flush of records still buffered when a
// drainer is told to stop.
const finalDrainTimeout = 100 * time.Millisecond

// Drainer streams a script's output channel to stdout/stderr writers
// from a background goroutine. Cancel asks it to flush and stop; Wait
// blocks until it has.
type Drainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewDrainer starts draining ch until the channel closes, ctx ends or
// Cancel is called. Nil writers discard their stream.
func NewDrainer(ctx context.Context, ch <-chan OutputRecord, logger *logrus.Logger, stdout, stderr io.Writer) *Drainer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	d := &Drainer{stop: make(chan struct{})}

	d.wg.Add(1)
	groutine.Go(ctx, "script-output-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		for {
			select {
			case rec, ok := <-ch:
				if !ok {
					return
				}
				writeRecord(rec, stdout, stderr, logger)
			case <-d.stop:
				flushRemaining(ch, stdout, stderr, logger, "stop")
				return
			case <-ctx.Done():
				flushRemaining(ch, stdout, stderr, logger, "context-done")
				return
			}
		}
	})

	return d
}

// Cancel signals the drainer to flush what is buffered and stop.
func (d *Drainer) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.stop)
	})
}

// Wait blocks until the drain goroutine has exited.
func (d *Drainer) Wait() {
	d.wg.Wait()
}

func writeRecord(rec OutputRecord, stdout, stderr io.Writer, logger *logrus.Logger) {
	var err error
	switch rec.Source {
	case "stdout":
		_, err = fmt.Fprint(stdout, rec.Content)
	case "stderr":
		_, err = fmt.Fprint(stderr, rec.Content)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"source": rec.Source,
			"error":  err,
		}).Warn("Script output write failed")
	}
}

// flushRemaining empties what the channel still holds, bounded so a
// producer that never stops cannot pin the goroutine.
func flushRemaining(ch <-chan OutputRecord, stdout, stderr io.Writer, logger *logrus.Logger, reason string) {
	deadline := time.After(finalDrainTimeout)
	drained := 0
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				logger.WithFields(logrus.Fields{
					"reason":  reason,
					"drained": drained,
				}).Debug("Script output drain completed")
				return
			}
			drained++
			writeRecord(rec, stdout, stderr, logger)
		case <-deadline:
			logger.WithFields(logrus.Fields{
				"reason":  reason,
				"drained": drained,
			}).Debug("Script output drain timed out")
			return
		}
	}
}
