package scale

import (
	"context"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
)

// Listener receives decoded scale reports. A non-nil err is either a
// frame the codec could not interpret (the stream stays up) or a
// terminal transport failure; after the latter the subscription's Done
// channel closes.
type Listener func(err error, m *Measurement)

// Client issues scale commands to one connected device through the
// mediated session layer.
type Client struct {
	m        *manager.Manager
	deviceID string
}

// NewClient binds a client to a connected peripheral.
func NewClient(m *manager.Manager, deviceID string) *Client {
	return &Client{m: m, deviceID: deviceID}
}

// SetUserProfile uploads a measurement profile to the scale head.
func (c *Client) SetUserProfile(ctx context.Context, userID string, age, heightCM int, g Gender, opts ...manager.TxOption) error {
	b, err := BuildSetUserProfile(userID, age, heightCM, g)
	if err != nil {
		return err
	}
	_, err = c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, b, true, opts...)
	return err
}

// SelectUserProfile activates a stored profile for the next measurement.
func (c *Client) SelectUserProfile(ctx context.Context, userID string, u Unit, opts ...manager.TxOption) error {
	b, err := BuildSelectUserProfile(userID, u)
	if err != nil {
		return err
	}
	_, err = c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, b, true, opts...)
	return err
}

// Reset wipes every stored profile on the scale.
func (c *Client) Reset(ctx context.Context, opts ...manager.TxOption) error {
	_, err := c.m.Write(ctx, c.deviceID, ServiceUUID, CommandUUID, BuildReset(), true, opts...)
	return err
}

// Stream monitors the measurement characteristic and hands decoded
// reports to listener until the subscription is removed.
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
		m, err := ParseMeasurement(raw)
		if err != nil {
			listener(err, nil)
			return
		}
		listener(nil, m)
	}, opts...)
}
