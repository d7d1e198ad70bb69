package testutils

import (
	"strings"
	"sync"

	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/transport"
)

// eventBuffer sizes the mock's event channels. Large enough that a
// test never blocks a dispatch on an undrained channel.
const eventBuffer = 256

// MockCharacteristic is one scripted characteristic of a mock
// peripheral. Properties is the usual comma-separated set
// ("read,write,notify").
type MockCharacteristic struct {
	UUID       string
	Properties string
	Value      []byte
}

// MockService groups scripted characteristics under a service UUID.
type MockService struct {
	UUID            string
	Characteristics []*MockCharacteristic
}

// MockPeripheral is the scripted profile of one reachable device.
// ConnectErr, when set, fails every connection attempt with exactly
// that error.
type MockPeripheral struct {
	ID         string
	Name       string
	RSSI       int
	MTU        int
	Services   []*MockService
	ConnectErr *transport.Error

	connected bool
}

func (p *MockPeripheral) summary(withServices bool) *transport.Peripheral {
	out := &transport.Peripheral{DeviceID: p.ID, Name: p.Name, MTU: p.MTU}
	if !withServices {
		return out
	}
	for _, s := range p.Services {
		svc := transport.Service{UUID: s.UUID}
		for _, c := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, transport.Characteristic{
				DeviceID:    p.ID,
				ServiceUUID: s.UUID,
				UUID:        c.UUID,
				ValueB64:    frame.EncodeBase64(c.Value),
			})
		}
		out.Services = append(out.Services, svc)
	}
	return out
}

func (p *MockPeripheral) findChar(serviceUUID, charUUID string) (*MockService, *MockCharacteristic) {
	for _, s := range p.Services {
		if !strings.EqualFold(s.UUID, serviceUUID) {
			continue
		}
		for _, c := range s.Characteristics {
			if strings.EqualFold(c.UUID, charUUID) {
				return s, c
			}
		}
	}
	return nil, nil
}

type monitorRef struct {
	deviceID    string
	serviceUUID string
	charUUID    string
}

// MockTransport is a fully scripted transport backend. Dispatches
// resolve against the configured peripheral profiles and settle
// asynchronously through the regular completion channel, exactly like
// a real backend. Tests drive the stream side by hand (Notify,
// Advertise, PushDisconnection) and can park any operation's
// completion with Hold to probe cancellation windows.
type MockTransport struct {
	mu sync.Mutex

	completions    chan transport.Completion
	notifications  chan transport.Notification
	scans          chan transport.ScanResult
	disconnections chan transport.Disconnection
	states         chan transport.StateChange
	restores       chan transport.StateRestore

	peripherals    map[string]*MockPeripheral
	advertisements []*transport.Advertisement
	adapterState   transport.State

	monitors map[string]monitorRef
	scanTx   string

	holds map[string]bool
	held  map[string][]transport.Completion

	writes  map[string][][]byte
	cancels []string

	closed bool
}

// NewMockTransport returns an empty powered-on mock. Add peripherals
// with AddPeripheral before connecting to them.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		completions:    make(chan transport.Completion, eventBuffer),
		notifications:  make(chan transport.Notification, eventBuffer),
		scans:          make(chan transport.ScanResult, eventBuffer),
		disconnections: make(chan transport.Disconnection, eventBuffer),
		states:         make(chan transport.StateChange, eventBuffer),
		restores:       make(chan transport.StateRestore, eventBuffer),
		peripherals:    make(map[string]*MockPeripheral),
		adapterState:   transport.StatePoweredOn,
		monitors:       make(map[string]monitorRef),
		holds:          make(map[string]bool),
		held:           make(map[string][]transport.Completion),
		writes:         make(map[string][][]byte),
	}
}

// AddPeripheral registers a scripted peripheral.
func (mt *MockTransport) AddPeripheral(p *MockPeripheral) *MockTransport {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.peripherals[p.ID] = p
	return mt
}

// AddAdvertisements sets the advertisements every scan reports right
// after it starts.
func (mt *MockTransport) AddAdvertisements(advs ...*transport.Advertisement) *MockTransport {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.advertisements = append(mt.advertisements, advs...)
	return mt
}

// Hold parks completions of the named operation ("connect", "read",
// "write", "monitor", ...) until Release. The dispatch itself still
// happens; only the settle is delayed.
func (mt *MockTransport) Hold(op string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.holds[op] = true
}

// Release flushes every parked completion of the named operation and
// stops holding it.
func (mt *MockTransport) Release(op string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	delete(mt.holds, op)
	for _, c := range mt.held[op] {
		if !mt.closed {
			mt.completions <- c
		}
	}
	delete(mt.held, op)
}

// CancelCalls returns every transaction id Cancel was invoked with, in
// order.
func (mt *MockTransport) CancelCalls() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	out := make([]string, len(mt.cancels))
	copy(out, mt.cancels)
	return out
}

// ActiveMonitors lists the transaction ids of monitors the backend
// currently considers live.
func (mt *MockTransport) ActiveMonitors() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	out := make([]string, 0, len(mt.monitors))
	for id := range mt.monitors {
		out = append(out, id)
	}
	return out
}

// Writes returns the raw frames written to one characteristic, oldest
// first.
func (mt *MockTransport) Writes(deviceID, charUUID string) [][]byte {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	key := strings.ToUpper(deviceID + "/" + charUUID)
	out := make([][]byte, len(mt.writes[key]))
	copy(out, mt.writes[key])
	return out
}

// Notify emits one notification on a monitor's stream.
func (mt *MockTransport) Notify(txID string, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	char := &transport.Characteristic{ValueB64: frame.EncodeBase64(value), IsNotifying: true}
	if ref, ok := mt.monitors[txID]; ok {
		char.DeviceID = ref.deviceID
		char.ServiceUUID = ref.serviceUUID
		char.UUID = ref.charUUID
	}
	mt.notifications <- transport.Notification{TxID: txID, Char: char}
}

// FailStream kills a monitor's stream with err.
func (mt *MockTransport) FailStream(txID string, err *transport.Error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	delete(mt.monitors, txID)
	mt.notifications <- transport.Notification{TxID: txID, Err: err}
}

// EndStream terminates a monitor's stream normally.
func (mt *MockTransport) EndStream(txID string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	delete(mt.monitors, txID)
	mt.notifications <- transport.Notification{TxID: txID, Done: true}
}

// Advertise emits additional scan results on the running scan.
func (mt *MockTransport) Advertise(advs ...*transport.Advertisement) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed || mt.scanTx == "" {
		return
	}
	for _, adv := range advs {
		mt.scans <- transport.ScanResult{TxID: mt.scanTx, Adv: adv}
	}
}

// FailScan kills the running scan's stream with err.
func (mt *MockTransport) FailScan(err *transport.Error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed || mt.scanTx == "" {
		return
	}
	mt.scans <- transport.ScanResult{TxID: mt.scanTx, Err: err}
	mt.scanTx = ""
}

// PushDisconnection emits a disconnection event. A nil err models a
// requested disconnect, non-nil a dropped link.
func (mt *MockTransport) PushDisconnection(deviceID string, err *transport.Error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	if p := mt.peripherals[deviceID]; p != nil {
		p.connected = false
	}
	mt.disconnections <- transport.Disconnection{DeviceID: deviceID, Err: err}
}

// SetState changes the adapter state and emits the transition event.
func (mt *MockTransport) SetState(s transport.State) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.adapterState = s
	if !mt.closed {
		mt.states <- transport.StateChange{State: s}
	}
}

// PushRestore emits a platform state-restore event.
func (mt *MockTransport) PushRestore(connectedDeviceIDs ...string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	mt.restores <- transport.StateRestore{State: &transport.RestoredState{ConnectedDeviceIDs: connectedDeviceIDs}}
}

// dispatch runs the scripted settle for one operation under the lock:
// resolve the completion, then either park it or emit it.
func (mt *MockTransport) dispatch(op, txID string, settle func() transport.Completion) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return
	}
	c := settle()
	if mt.holds[op] {
		mt.held[op] = append(mt.held[op], c)
		return
	}
	mt.completions <- c
}

func completionErr(txID string, code transport.ErrorCode, reason string) transport.Completion {
	return transport.Completion{TxID: txID, Err: &transport.Error{Code: code, Reason: reason}}
}

func (mt *MockTransport) Connect(deviceID string, _ *transport.ConnectOptions, txID string) {
	mt.dispatch("connect", txID, func() transport.Completion {
		p := mt.peripherals[deviceID]
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotFound, "peripheral "+deviceID+" is not known")
		}
		if p.ConnectErr != nil {
			return transport.Completion{TxID: txID, Err: p.ConnectErr}
		}
		p.connected = true
		return transport.Completion{TxID: txID, Value: p.summary(false)}
	})
}

func (mt *MockTransport) Disconnect(deviceID string, txID string) {
	mt.dispatch("disconnect", txID, func() transport.Completion {
		p := mt.peripherals[deviceID]
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotFound, "peripheral "+deviceID+" is not known")
		}
		p.connected = false
		if !mt.closed {
			mt.disconnections <- transport.Disconnection{DeviceID: deviceID}
		}
		return transport.Completion{TxID: txID, Value: p.summary(false)}
	})
}

func (mt *MockTransport) DiscoverServices(deviceID string, txID string) {
	mt.dispatch("discover", txID, func() transport.Completion {
		p := mt.peripherals[deviceID]
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotFound, "peripheral "+deviceID+" is not known")
		}
		if !p.connected {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		return transport.Completion{TxID: txID, Value: p.summary(true)}
	})
}

func (mt *MockTransport) Read(deviceID, serviceUUID, charUUID, txID string) {
	mt.dispatch("read", txID, func() transport.Completion {
		p, c := mt.resolveChar(deviceID, serviceUUID, charUUID)
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		if c == nil {
			return completionErr(txID, transport.CodeCharacteristicNotFound, "characteristic "+charUUID+" not found on "+deviceID)
		}
		return transport.Completion{TxID: txID, Value: &transport.Characteristic{
			DeviceID:    deviceID,
			ServiceUUID: serviceUUID,
			UUID:        c.UUID,
			ValueB64:    frame.EncodeBase64(c.Value),
		}}
	})
}

func (mt *MockTransport) Write(deviceID, serviceUUID, charUUID, payloadB64 string, _ bool, txID string) {
	mt.dispatch("write", txID, func() transport.Completion {
		p, c := mt.resolveChar(deviceID, serviceUUID, charUUID)
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		if c == nil {
			return completionErr(txID, transport.CodeCharacteristicNotFound, "characteristic "+charUUID+" not found on "+deviceID)
		}
		value, err := frame.DecodeBase64(payloadB64)
		if err != nil {
			return completionErr(txID, transport.CodeWriteFailed, "malformed payload: "+err.Error())
		}
		c.Value = value
		key := strings.ToUpper(deviceID + "/" + c.UUID)
		mt.writes[key] = append(mt.writes[key], value)
		return transport.Completion{TxID: txID, Value: &transport.Characteristic{
			DeviceID:    deviceID,
			ServiceUUID: serviceUUID,
			UUID:        c.UUID,
			ValueB64:    payloadB64,
		}}
	})
}

func (mt *MockTransport) Monitor(deviceID, serviceUUID, charUUID, txID string) {
	mt.dispatch("monitor", txID, func() transport.Completion {
		p, c := mt.resolveChar(deviceID, serviceUUID, charUUID)
		if p == nil {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		if c == nil {
			return completionErr(txID, transport.CodeCharacteristicNotFound, "characteristic "+charUUID+" not found on "+deviceID)
		}
		if !strings.Contains(c.Properties, "notify") && !strings.Contains(c.Properties, "indicate") {
			return completionErr(txID, transport.CodeNotifyStartFailed, "characteristic "+charUUID+" does not notify")
		}
		mt.monitors[txID] = monitorRef{deviceID: deviceID, serviceUUID: serviceUUID, charUUID: c.UUID}
		return transport.Completion{TxID: txID}
	})
}

func (mt *MockTransport) ReadRSSI(deviceID, txID string) {
	mt.dispatch("rssi", txID, func() transport.Completion {
		p := mt.peripherals[deviceID]
		if p == nil || !p.connected {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		return transport.Completion{TxID: txID, Value: p.RSSI}
	})
}

func (mt *MockTransport) RequestMTU(deviceID string, mtu int, txID string) {
	mt.dispatch("mtu", txID, func() transport.Completion {
		p := mt.peripherals[deviceID]
		if p == nil || !p.connected {
			return completionErr(txID, transport.CodeDeviceNotConnected, "peripheral "+deviceID+" is not connected")
		}
		granted := mtu
		if p.MTU > 0 && mtu > p.MTU {
			granted = p.MTU
		}
		return transport.Completion{TxID: txID, Value: granted}
	})
}

func (mt *MockTransport) Scan(serviceUUIDs []string, _ bool, txID string) {
	mt.dispatch("scan", txID, func() transport.Completion {
		mt.scanTx = txID
		for _, adv := range mt.advertisements {
			if !matchesFilter(adv, serviceUUIDs) {
				continue
			}
			mt.scans <- transport.ScanResult{TxID: txID, Adv: adv}
		}
		return transport.Completion{TxID: txID}
	})
}

func (mt *MockTransport) ReadState(txID string) {
	mt.dispatch("state", txID, func() transport.Completion {
		return transport.Completion{TxID: txID, Value: mt.adapterState}
	})
}

func (mt *MockTransport) Cancel(txID string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.cancels = append(mt.cancels, txID)
	if mt.scanTx == txID {
		mt.scanTx = ""
	}
	delete(mt.monitors, txID)
}

func (mt *MockTransport) Completions() <-chan transport.Completion       { return mt.completions }
func (mt *MockTransport) Notifications() <-chan transport.Notification   { return mt.notifications }
func (mt *MockTransport) ScanResults() <-chan transport.ScanResult       { return mt.scans }
func (mt *MockTransport) Disconnections() <-chan transport.Disconnection { return mt.disconnections }
func (mt *MockTransport) StateChanges() <-chan transport.StateChange     { return mt.states }
func (mt *MockTransport) StateRestores() <-chan transport.StateRestore   { return mt.restores }

func (mt *MockTransport) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed {
		return nil
	}
	mt.closed = true
	close(mt.completions)
	close(mt.notifications)
	close(mt.scans)
	close(mt.disconnections)
	close(mt.states)
	close(mt.restores)
	return nil
}

func (mt *MockTransport) resolveChar(deviceID, serviceUUID, charUUID string) (*MockPeripheral, *MockCharacteristic) {
	p := mt.peripherals[deviceID]
	if p == nil || !p.connected {
		return nil, nil
	}
	_, c := p.findChar(serviceUUID, charUUID)
	return p, c
}

func matchesFilter(adv *transport.Advertisement, serviceUUIDs []string) bool {
	if len(serviceUUIDs) == 0 {
		return true
	}
	for _, want := range serviceUUIDs {
		for _, have := range adv.ServiceUUIDs {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}
