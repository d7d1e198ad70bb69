package goble

import (
	"context"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/bledb"
	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/groutine"
	"github.com/srg/blemux/internal/transport"
)

// Connect dials the peripheral. Service discovery is deferred to the
// first operation that needs the GATT profile. With AutoConnect set the
// dial has no deadline and keeps waiting for the device to appear until
// Cancel(txID).
func (t *Transport) Connect(deviceID string, opts *transport.ConnectOptions, txID string) {
	t.run(txID, "ble-connect", func(ctx context.Context) (any, *transport.Error) {
		if strings.TrimSpace(deviceID) == "" {
			return nil, &transport.Error{Code: transport.CodeInvalidIdentifier, Reason: "device id is empty"}
		}
		if t.lookupConn(deviceID) != nil {
			return nil, &transport.Error{
				Code:   transport.CodeDeviceAlreadyConnected,
				Reason: "device " + deviceID + " is already connected",
			}
		}
		if _, err := t.device(); err != nil {
			return nil, adapterError(err)
		}

		dialCtx := ctx
		var cancel context.CancelFunc
		if opts == nil || !opts.AutoConnect {
			timeout := defaultConnectTimeout
			if opts != nil && opts.Timeout > 0 {
				timeout = opts.Timeout
			}
			dialCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		t.logger.WithField("device", deviceID).Debug("dialing peripheral")
		client, err := ble.Dial(dialCtx, ble.NewAddr(deviceID))
		if err != nil {
			return nil, transport.NormalizeError(err, transport.CodeConnectionFailed)
		}

		c := newConn(deviceID, client)
		if terr := t.registerConn(c); terr != nil {
			c.shutdown()
			if err := client.CancelConnection(); err != nil {
				t.logger.WithFields(logrus.Fields{"device": deviceID, "error": err}).Debug("dropping surplus connection failed")
			}
			return nil, terr
		}

		if opts != nil && opts.RequestMTU > 0 {
			if granted, err := client.ExchangeMTU(opts.RequestMTU); err != nil {
				t.logger.WithFields(logrus.Fields{"device": deviceID, "error": err}).Warn("mtu negotiation failed")
			} else {
				c.setMTU(granted)
			}
		}
		t.watchDisconnect(c)

		t.logger.WithFields(logrus.Fields{"device": deviceID, "name": c.name}).Info("peripheral connected")
		return &transport.Peripheral{DeviceID: deviceID, Name: c.name, MTU: c.currentMTU()}, nil
	})
}

// Disconnect drops the link. Monitors on the device end with a normal
// Done event and the requested disconnection is reported with a nil
// error before the completion settles.
func (t *Transport) Disconnect(deviceID string, txID string) {
	t.run(txID, "ble-disconnect", func(ctx context.Context) (any, *transport.Error) {
		c := t.takeConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		c.shutdown()
		t.endMonitors(deviceID, nil)
		if err := c.client.CancelConnection(); err != nil {
			t.logger.WithFields(logrus.Fields{"device": deviceID, "error": err}).Warn("disconnect returned error")
		}
		t.emitDisconnection(transport.Disconnection{DeviceID: deviceID})
		t.logger.WithField("device", deviceID).Info("peripheral disconnected")
		return &transport.Peripheral{DeviceID: deviceID, Name: c.name, MTU: c.currentMTU()}, nil
	})
}

// DiscoverServices runs a full discovery pass and reports the service
// tree.
func (t *Transport) DiscoverServices(deviceID string, txID string) {
	t.run(txID, "ble-discover", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		p, terr := c.refreshProfile()
		if terr != nil {
			return nil, terr
		}
		summary := c.snapshot(p)
		t.logger.WithFields(logrus.Fields{"device": deviceID, "services": len(summary.Services)}).Debug("profile discovered")
		return summary, nil
	})
}

// Read reads one characteristic value.
func (t *Transport) Read(deviceID, serviceUUID, charUUID, txID string) {
	t.run(txID, "ble-read", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		ch, terr := c.resolve(serviceUUID, charUUID)
		if terr != nil {
			return nil, terr
		}
		data, err := c.client.ReadCharacteristic(ch)
		if err != nil {
			return nil, transport.NormalizeError(err, transport.CodeReadFailed)
		}
		return &transport.Characteristic{
			DeviceID:    deviceID,
			ServiceUUID: bledb.NormalizeUUID(serviceUUID),
			UUID:        bledb.NormalizeUUID(charUUID),
			ValueB64:    frame.EncodeBase64(data),
		}, nil
	})
}

// Write pushes the payload to the characteristic in ATT-sized chunks.
func (t *Transport) Write(deviceID, serviceUUID, charUUID, payloadB64 string, withResponse bool, txID string) {
	t.run(txID, "ble-write", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		data, err := frame.DecodeBase64(payloadB64)
		if err != nil {
			return nil, &transport.Error{Code: transport.CodeWriteFailed, Reason: "malformed payload: " + err.Error()}
		}
		ch, terr := c.resolve(serviceUUID, charUUID)
		if terr != nil {
			return nil, terr
		}
		if err := c.write(ctx, ch, data, withResponse); err != nil {
			return nil, transport.NormalizeError(err, transport.CodeWriteFailed)
		}
		return &transport.Characteristic{
			DeviceID:    deviceID,
			ServiceUUID: bledb.NormalizeUUID(serviceUUID),
			UUID:        bledb.NormalizeUUID(charUUID),
			ValueB64:    payloadB64,
		}, nil
	})
}

// Monitor turns on notifications, or indications when that is all the
// characteristic offers, and routes every update to the shared
// notification channel under txID.
func (t *Transport) Monitor(deviceID, serviceUUID, charUUID, txID string) {
	t.run(txID, "ble-monitor", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		ch, terr := c.resolve(serviceUUID, charUUID)
		if terr != nil {
			return nil, terr
		}
		if ch.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
			return nil, &transport.Error{
				Code:   transport.CodeNotifyStartFailed,
				Reason: "characteristic " + charUUID + " does not notify",
			}
		}
		m := &monitor{
			deviceID:    deviceID,
			serviceUUID: bledb.NormalizeUUID(serviceUUID),
			charUUID:    bledb.NormalizeUUID(charUUID),
			conn:        c,
			char:        ch,
			indicate:    ch.Property&ble.CharNotify == 0,
		}
		handler := func(data []byte) {
			t.emitNotification(transport.Notification{TxID: txID, Char: &transport.Characteristic{
				DeviceID:    m.deviceID,
				ServiceUUID: m.serviceUUID,
				UUID:        m.charUUID,
				ValueB64:    frame.EncodeBase64(data),
				IsNotifying: true,
			}})
		}
		if err := c.client.Subscribe(ch, m.indicate, handler); err != nil {
			return nil, transport.NormalizeError(err, transport.CodeNotifyStartFailed)
		}
		t.mu.Lock()
		t.monitors[txID] = m
		t.mu.Unlock()
		t.logger.WithFields(logrus.Fields{"device": deviceID, "char": m.charUUID, "tx": txID}).Debug("monitor started")
		return nil, nil
	})
}

// ReadRSSI reads the connection RSSI.
func (t *Transport) ReadRSSI(deviceID, txID string) {
	t.run(txID, "ble-rssi", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		return c.client.ReadRSSI(), nil
	})
}

// RequestMTU negotiates the ATT MTU and reports what was granted.
func (t *Transport) RequestMTU(deviceID string, mtu int, txID string) {
	t.run(txID, "ble-mtu", func(ctx context.Context) (any, *transport.Error) {
		c := t.lookupConn(deviceID)
		if c == nil {
			return nil, notConnectedErr(deviceID)
		}
		granted, err := c.client.ExchangeMTU(mtu)
		if err != nil {
			return nil, transport.NormalizeError(err, transport.CodeMTUChangeFailed)
		}
		c.setMTU(granted)
		return granted, nil
	})
}

// Scan starts radio scanning. Reports flow on the scan channel under
// txID until Cancel(txID); one scan runs at a time.
func (t *Transport) Scan(serviceUUIDs []string, allowDuplicates bool, txID string) {
	t.run(txID, "ble-scan-start", func(ctx context.Context) (any, *transport.Error) {
		dev, err := t.device()
		if err != nil {
			return nil, adapterError(err)
		}
		filter := bledb.NormalizeUUIDs(serviceUUIDs)

		scanCtx, stop := context.WithCancel(context.Background())
		t.mu.Lock()
		if t.scanTx != "" {
			t.mu.Unlock()
			stop()
			return nil, &transport.Error{Code: transport.CodeOperationStartFailed, Reason: "a scan is already running"}
		}
		t.scanTx = txID
		t.scanStop = stop
		t.mu.Unlock()

		groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
			err := dev.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
				if !matchesServiceFilter(advServiceUUIDs(adv), filter) {
					return
				}
				t.emitScan(transport.ScanResult{TxID: txID, Adv: newAdvertisement(adv)})
			})
			stopped := ctx.Err() != nil
			t.mu.Lock()
			if t.scanTx == txID {
				t.scanTx = ""
				t.scanStop = nil
			}
			t.mu.Unlock()
			if err != nil && !stopped {
				t.logger.WithFields(logrus.Fields{"tx": txID, "error": err}).Warn("scan stopped with error")
				t.emitScan(transport.ScanResult{TxID: txID, Err: transport.NormalizeError(err, transport.CodeOperationStartFailed)})
			}
		})
		return nil, nil
	})
}

// ReadState reports the adapter state. The radio is probed lazily: the
// first read creates the platform device and the state is derived from
// how that went.
func (t *Transport) ReadState(txID string) {
	t.run(txID, "ble-state", func(ctx context.Context) (any, *transport.Error) {
		if _, err := t.device(); err != nil {
			return stateFromError(err), nil
		}
		return transport.StatePoweredOn, nil
	})
}

// newAdvertisement converts one radio report to the wire shape.
func newAdvertisement(adv ble.Advertisement) *transport.Advertisement {
	return &transport.Advertisement{
		DeviceID:        adv.Addr().String(),
		LocalName:       adv.LocalName(),
		RSSI:            adv.RSSI(),
		ServiceUUIDs:    advServiceUUIDs(adv),
		ManufacturerB64: frame.EncodeBase64(adv.ManufacturerData()),
		Connectable:     adv.Connectable(),
	}
}

// advServiceUUIDs lists the advertised service UUIDs in normalized
// form.
func advServiceUUIDs(adv ble.Advertisement) []string {
	svcs := adv.Services()
	if len(svcs) == 0 {
		return nil
	}
	out := make([]string, 0, len(svcs))
	for _, u := range svcs {
		out = append(out, bledb.NormalizeUUID(u.String()))
	}
	return out
}

// matchesServiceFilter reports whether any advertised UUID appears in
// the filter. An empty filter admits everything. Both sides arrive
// normalized.
func matchesServiceFilter(advertised, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, have := range advertised {
			if want == have {
				return true
			}
		}
	}
	return false
}
