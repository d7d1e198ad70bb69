package tracker

import (
	"context"
	"time"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
)

// Listener receives decoded band events. A non-nil err is either a
// frame the codec could not interpret (the stream stays up) or a
// terminal transport failure; after the latter the subscription's Done
// channel closes.
type Listener func(err error, ev *Event)

// Client issues band commands to one connected device through the
// mediated session layer.
type Client struct {
	m        *manager.Manager
	deviceID string
}

// NewClient binds a client to a connected peripheral.
func NewClient(m *manager.Manager, deviceID string) *Client {
	return &Client{m: m, deviceID: deviceID}
}

func (c *Client) write(ctx context.Context, b []byte, opts []manager.TxOption) error {
	_, err := c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, b, true, opts...)
	return err
}

// SetDeviceTime sets the band clock to t.
func (c *Client) SetDeviceTime(ctx context.Context, t time.Time, opts ...manager.TxOption) error {
	return c.write(ctx, BuildSetDeviceTime(t), opts)
}

// ActivateVibration buzzes the band for the given number of seconds.
func (c *Client) ActivateVibration(ctx context.Context, seconds int, opts ...manager.TxOption) error {
	return c.write(ctx, BuildActivateVibration(seconds), opts)
}

// SetDistanceUnit switches the band display between metric and US units.
func (c *Client) SetDistanceUnit(ctx context.Context, u Unit, opts ...manager.TxOption) error {
	return c.write(ctx, BuildSetDistanceUnit(u), opts)
}

// RequestDayActivity asks the band to stream one day's activity log.
// Records arrive on the event stream; start a Stream subscription
// before requesting.
func (c *Client) RequestDayActivity(ctx context.Context, date time.Time, detailed bool, opts ...manager.TxOption) error {
	return c.write(ctx, BuildRequestDayActivity(date, detailed), opts)
}

// Stream monitors the event characteristic and hands decoded frames to
// listener until the subscription is removed.
func (c *Client) Stream(listener Listener, opts ...manager.TxOption) (*manager.Subscription, error) {
	return c.m.MonitorCharacteristic(c.deviceID, ServiceUUID, EventUUID, func(terr *transport.Error, ch *transport.Characteristic) {
		if terr != nil {
			listener(terr, nil)
			return
		}
		raw, err := ch.Value()
		if err != nil {
			listener(err, nil)
			return
		}
		ev, err := ParseEvent(raw)
		if err != nil {
			listener(err, nil)
			return
		}
		listener(nil, ev)
	}, opts...)
}
