package glucometer

import (
	"context"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
)

// Listener receives decoded stored readings. A non-nil err is either a
// frame the codec could not interpret (the stream stays up) or a
// terminal transport failure; after the latter the subscription's Done
// channel closes.
type Listener func(err error, r *Record)

// Client issues meter commands to one connected device through the
// mediated session layer.
type Client struct {
	m        *manager.Manager
	deviceID string
}

// NewClient binds a client to a connected peripheral.
func NewClient(m *manager.Manager, deviceID string) *Client {
	return &Client{m: m, deviceID: deviceID}
}

// SetTime resyncs the meter clock to the wall clock.
func (c *Client) SetTime(ctx context.Context, opts ...manager.TxOption) error {
	_, err := c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, BuildSetTime(), true, opts...)
	return err
}

// FetchAdditionalRecord asks the meter for the next stored reading it
// has not sent yet. The record arrives on the record stream; start a
// Stream subscription before fetching.
func (c *Client) FetchAdditionalRecord(ctx context.Context, opts ...manager.TxOption) error {
	_, err := c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, BuildFetchAdditionalRecord(), true, opts...)
	return err
}

// Stream monitors the record characteristic and hands decoded readings
// to listener until the subscription is removed.
func (c *Client) Stream(listener Listener, opts ...manager.TxOption) (*manager.Subscription, error) {
	return c.m.MonitorCharacteristic(c.deviceID, ServiceUUID, RecordUUID, func(terr *transport.Error, ch *transport.Characteristic) {
		if terr != nil {
			listener(terr, nil)
			return
		}
		raw, err := ch.Value()
		if err != nil {
			listener(err, nil)
			return
		}
		r, err := ParseRecord(raw)
		if err != nil {
			listener(err, nil)
			return
		}
		listener(nil, r)
	}, opts...)
}
