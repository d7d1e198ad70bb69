package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/blemux/internal/bledb"
	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/transport"
)

const (
	// writeChunkSize is the largest slice handed to a single ATT write.
	// 20 bytes of payload fits the 23-byte default MTU.
	writeChunkSize = 20

	// writeChunkDelay spaces consecutive chunks so slow peripherals
	// keep up with long payloads.
	writeChunkDelay = 10 * time.Millisecond
)

// conn is one live peripheral link. The GATT profile is discovered
// lazily: connecting only dials, the first operation that needs a
// characteristic triggers discovery.
type conn struct {
	deviceID string
	client   ble.Client
	name     string

	// done stops the disconnect watcher on a locally requested
	// teardown.
	done     chan struct{}
	shutOnce sync.Once

	// writeMu serializes chunked writes per link.
	writeMu sync.Mutex

	mu      sync.Mutex
	mtu     int
	profile *ble.Profile
}

func newConn(deviceID string, client ble.Client) *conn {
	return &conn{
		deviceID: deviceID,
		client:   client,
		name:     client.Name(),
		done:     make(chan struct{}),
	}
}

// shutdown stops the disconnect watcher. Idempotent.
func (c *conn) shutdown() {
	c.shutOnce.Do(func() { close(c.done) })
}

func (c *conn) setMTU(mtu int) {
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
}

func (c *conn) currentMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// ensureProfile returns the GATT profile, running discovery on first
// use.
func (c *conn) ensureProfile() (*ble.Profile, *transport.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile != nil {
		return c.profile, nil
	}
	p, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, transport.NormalizeError(err, transport.CodeOperationStartFailed)
	}
	c.profile = p
	return p, nil
}

// refreshProfile forces a fresh discovery pass, replacing whatever was
// cached.
func (c *conn) refreshProfile() (*ble.Profile, *transport.Error) {
	p, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, transport.NormalizeError(err, transport.CodeOperationStartFailed)
	}
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
	return p, nil
}

// resolve finds the live characteristic behind the caller's service and
// characteristic UUIDs. Any form the normalizer folds to the same
// identity matches, so "fff1" finds the full 128-bit SIG-based UUID.
func (c *conn) resolve(serviceUUID, charUUID string) (*ble.Characteristic, *transport.Error) {
	p, terr := c.ensureProfile()
	if terr != nil {
		return nil, terr
	}
	return findCharacteristic(p, c.deviceID, serviceUUID, charUUID)
}

func findCharacteristic(p *ble.Profile, deviceID, serviceUUID, charUUID string) (*ble.Characteristic, *transport.Error) {
	wantSvc := bledb.NormalizeUUID(serviceUUID)
	wantChar := bledb.NormalizeUUID(charUUID)
	serviceSeen := false
	for _, svc := range p.Services {
		if bledb.NormalizeUUID(svc.UUID.String()) != wantSvc {
			continue
		}
		serviceSeen = true
		for _, ch := range svc.Characteristics {
			if bledb.NormalizeUUID(ch.UUID.String()) == wantChar {
				return ch, nil
			}
		}
	}
	if serviceSeen {
		return nil, &transport.Error{
			Code:   transport.CodeCharacteristicNotFound,
			Reason: "characteristic " + charUUID + " not found on " + deviceID,
		}
	}
	return nil, &transport.Error{
		Code:   transport.CodeServiceNotFound,
		Reason: "service " + serviceUUID + " not found on " + deviceID,
	}
}

// write pushes data in ATT-sized chunks, serialized against other
// writes on the same link. withResponse selects acknowledged writes.
func (c *conn) write(ctx context.Context, char *ble.Characteristic, data []byte, withResponse bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if err := c.client.WriteCharacteristic(char, data[:n], !withResponse); err != nil {
			return err
		}
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(writeChunkDelay)
		}
	}
	return nil
}

// snapshot renders the discovered profile as the wire-level peripheral
// summary. Values of readable characteristics are included best-effort;
// a failed read leaves the value empty rather than failing discovery.
func (c *conn) snapshot(p *ble.Profile) *transport.Peripheral {
	out := &transport.Peripheral{DeviceID: c.deviceID, Name: c.name, MTU: c.currentMTU()}
	for _, svc := range p.Services {
		svcUUID := bledb.NormalizeUUID(svc.UUID.String())
		s := transport.Service{UUID: svcUUID}
		for _, ch := range svc.Characteristics {
			tc := transport.Characteristic{
				DeviceID:    c.deviceID,
				ServiceUUID: svcUUID,
				UUID:        bledb.NormalizeUUID(ch.UUID.String()),
			}
			if ch.Property&ble.CharRead != 0 {
				if data, err := c.client.ReadCharacteristic(ch); err == nil && len(data) > 0 {
					tc.ValueB64 = frame.EncodeBase64(data)
				}
			}
			s.Characteristics = append(s.Characteristics, tc)
		}
		out.Services = append(out.Services, s)
	}
	return out
}
