package oximeter

import (
	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
)

// Listener receives decoded probe samples. A non-nil err is either a
// frame the codec could not interpret (the stream stays up) or a
// terminal transport failure; after the latter the subscription's Done
// channel closes.
type Listener func(err error, s *Sample)

// Client reads the sample stream of one connected probe through the
// mediated session layer.
type Client struct {
	m        *manager.Manager
	deviceID string
}

// NewClient binds a client to a connected peripheral.
func NewClient(m *manager.Manager, deviceID string) *Client {
	return &Client{m: m, deviceID: deviceID}
}

// Stream monitors the probe's TX characteristic and hands decoded
// samples to listener until the subscription is removed.
func (c *Client) Stream(listener Listener, opts ...manager.TxOption) (*manager.Subscription, error) {
	return c.m.MonitorCharacteristic(c.deviceID, ServiceUUID, StreamUUID, func(terr *transport.Error, ch *transport.Characteristic) {
		if terr != nil {
			listener(terr, nil)
			return
		}
		raw, err := ch.Value()
		if err != nil {
			listener(err, nil)
			return
		}
		s, err := ParseSample(raw)
		if err != nil {
			listener(err, nil)
			return
		}
		listener(nil, s)
	}, opts...)
}
