package bpmonitor

import (
	"context"
	"time"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
)

// Listener receives decoded cuff events. A non-nil err is either a
// frame the codec could not interpret (the stream stays up) or a
// terminal transport failure; after the latter the subscription's Done
// channel closes.
type Listener func(err error, ev *Event)

// Client issues cuff commands to one connected device through the
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

// FetchMode asks the cuff for its operating mode.
func (c *Client) FetchMode(ctx context.Context, opts ...manager.TxOption) error {
	return c.write(ctx, BuildFetchMode(), opts)
}

// FetchHistory starts a stored-readings dump onto the event stream.
func (c *Client) FetchHistory(ctx context.Context, opts ...manager.TxOption) error {
	return c.write(ctx, BuildFetchHistory(), opts)
}

// VoiceToggle flips the voice announcement setting.
func (c *Client) VoiceToggle(ctx context.Context, opts ...manager.TxOption) error {
	return c.write(ctx, BuildVoiceToggle(), opts)
}

// StartTest inflates the cuff and starts a measurement cycle. Progress
// and the final reading arrive on the event stream.
func (c *Client) StartTest(ctx context.Context, opts ...manager.TxOption) error {
	return c.write(ctx, BuildStartTest(), opts)
}

// SetDeviceTime sets the cuff clock from t.
func (c *Client) SetDeviceTime(ctx context.Context, t time.Time, opts ...manager.TxOption) error {
	return c.write(ctx, BuildSetDeviceTime(t), opts)
}

// Stream monitors the measurement characteristic and hands decoded
// events to listener until the subscription is removed.
func (c *Client) Stream(listener Listener, opts ...manager.TxOption) (*manager.Subscription, error) {
	return c.m.MonitorCharacteristic(c.deviceID, ServiceUUID, MeasurementUUID, func(terr *transport.Error, ch *transport.Characteristic) {
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
