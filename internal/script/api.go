package script

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile"
	"github.com/srg/blemux/internal/transport"
)

const (
	// defaultOpTimeout bounds a single session operation issued from a
	// script when the run context carries no tighter deadline.
	defaultOpTimeout = 10 * time.Second

	// defaultConnectTimeout bounds connect attempts from scripts.
	defaultConnectTimeout = 30 * time.Second
)

// API exposes a session manager to Lua scripts as the global blemux
// table: session operations, a scan helper, byte utilities and the
// vendor command groups.
//
// Convention for operations: argument misuse raises a Lua error;
// expected failures (device unreachable, write rejected) return
// (nil, message) so scripts can branch on them.
type API struct {
	engine *Engine
	mgr    *manager.Manager
	logger *logrus.Logger

	mu       sync.Mutex
	monitors map[string]*monitorEntry
}

// monitorEntry pairs a live subscription with the registry ref of its
// Lua callback.
type monitorEntry struct {
	sub *manager.Subscription
	ref int
}

// NewAPI creates an engine and installs the blemux table backed by m.
// The API owns the engine; Close releases both.
func NewAPI(m *manager.Manager, logger *logrus.Logger) *API {
	a := &API{
		engine:   NewEngine(logger),
		mgr:      m,
		logger:   logger,
		monitors: make(map[string]*monitorEntry),
	}
	a.register()
	return a
}

// Engine returns the underlying interpreter, for globals access and
// callback pumping.
func (a *API) Engine() *Engine {
	return a.engine
}

// OutputChannel streams the script's captured print output.
func (a *API) OutputChannel() <-chan OutputRecord {
	return a.engine.OutputChannel()
}

// ExecuteScript runs source with the blemux table available.
func (a *API) ExecuteScript(ctx context.Context, source string) error {
	return a.engine.ExecuteScript(ctx, source)
}

// Reset rebuilds the interpreter and re-registers the API. Monitors
// survive a reset but their callbacks are gone with the old state, so
// they are stopped first.
func (a *API) Reset() {
	a.stopAllMonitors()
	a.engine.Reset()
	a.register()
}

// ActiveMonitors reports how many script subscriptions are live.
func (a *API) ActiveMonitors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.monitors)
}

// Close stops every script subscription and tears the engine down.
func (a *API) Close() {
	a.stopAllMonitors()
	a.engine.Close()
}

func (a *API) stopAllMonitors() {
	a.mu.Lock()
	entries := make([]*monitorEntry, 0, len(a.monitors))
	for _, ent := range a.monitors {
		entries = append(entries, ent)
	}
	a.monitors = make(map[string]*monitorEntry)
	a.mu.Unlock()

	for _, ent := range entries {
		ent.sub.Remove()
	}
	a.engine.DoWithState(func(L *lua.State) interface{} {
		for _, ent := range entries {
			L.Unref(lua.LUA_REGISTRYINDEX, ent.ref)
		}
		return nil
	})
}

func (a *API) track(sub *manager.Subscription, ref int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitors[sub.ID()] = &monitorEntry{sub: sub, ref: ref}
}

func (a *API) untrack(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.monitors[id]; !ok {
		return false
	}
	delete(a.monitors, id)
	return true
}

// opContext derives the deadline for one session operation from the
// running script's context.
func (a *API) opContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.engine.RunContext(), timeout)
}

// register installs the blemux global.
func (a *API) register() {
	a.engine.DoWithState(func(L *lua.State) interface{} {
		L.NewTable()

		a.registerCore(L)
		a.registerScale(L)
		a.registerTracker(L)
		a.registerBPMonitor(L)
		a.registerGlucometer(L)
		a.registerOximeter(L)

		L.SetGlobal("blemux")
		return nil
	})
}

// reg adds a function to the table at the top of the stack. path is the
// full dotted name used in diagnostics; the Lua key is its last
// segment.
func (a *API) reg(L *lua.State, path string, fn func(*lua.State) int) {
	name := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		name = path[i+1:]
	}
	L.PushString(name)
	L.PushGoFunction(a.engine.protect(path+"()", fn))
	L.SetTable(-3)
}

func (a *API) registerCore(L *lua.State) {
	a.reg(L, "blemux.log", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("log(message [, level]) expects a string message")
			return 0
		}
		msg := L.ToString(1)
		level := "info"
		if L.GetTop() >= 2 && L.IsString(2) {
			level = L.ToString(2)
		}
		switch strings.ToLower(level) {
		case "debug":
			a.logger.Debug(msg)
		case "warn", "warning":
			a.logger.Warn(msg)
		case "error":
			a.logger.Error(msg)
		default:
			a.logger.Info(msg)
		}
		return 0
	})

	a.reg(L, "blemux.sleep", func(L *lua.State) int {
		if !L.IsNumber(1) {
			L.RaiseError("sleep(milliseconds) expects a number argument")
			return 0
		}
		ms := L.ToInteger(1)
		if ms < 0 {
			L.RaiseError("sleep(milliseconds) expects a non-negative number")
			return 0
		}
		// Queued notification callbacks run while the script waits.
		if err := a.engine.pumpFor(L, time.Duration(ms)*time.Millisecond); err != nil {
			L.RaiseError("sleep interrupted: " + err.Error())
		}
		return 0
	})

	a.reg(L, "blemux.tohex", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("tohex(data) expects a string argument")
			return 0
		}
		L.PushString(strings.ToUpper(hex.EncodeToString([]byte(L.ToString(1)))))
		return 1
	})

	a.reg(L, "blemux.fromhex", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("fromhex(hex) expects a string argument")
			return 0
		}
		cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(L.ToString(1))
		raw, err := hex.DecodeString(cleaned)
		if err != nil {
			L.PushNil()
			L.PushString(fmt.Sprintf("invalid hex payload: %v", err))
			return 2
		}
		L.PushString(string(raw))
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.scan", func(L *lua.State) int {
		if !L.IsNumber(1) {
			L.RaiseError("scan(milliseconds) expects a number argument")
			return 0
		}
		ms := L.ToInteger(1)
		if ms <= 0 {
			L.RaiseError("scan(milliseconds) expects a positive number")
			return 0
		}
		return a.runScan(L, time.Duration(ms)*time.Millisecond)
	})

	a.reg(L, "blemux.connect", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("connect(device_id [, timeout_ms]) expects a device id")
			return 0
		}
		deviceID := L.ToString(1)
		timeout := defaultConnectTimeout
		if L.GetTop() >= 2 && L.IsNumber(2) {
			timeout = time.Duration(L.ToInteger(2)) * time.Millisecond
		}
		ctx, cancel := a.opContext(timeout)
		defer cancel()
		p, err := a.mgr.Connect(ctx, deviceID, &transport.ConnectOptions{Timeout: timeout})
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		a.pushPeripheral(L, p)
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.disconnect", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("disconnect(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		if err := a.mgr.Disconnect(ctx, L.ToString(1)); err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		L.PushBoolean(true)
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.services", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("services(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		p, err := a.mgr.DiscoverServices(ctx, L.ToString(1))
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		a.pushServices(L, p.Services)
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.read", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) || !L.IsString(3) {
			L.RaiseError("read(device_id, service, characteristic) expects three strings")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		ch, err := a.mgr.Read(ctx, L.ToString(1), L.ToString(2), L.ToString(3))
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		raw, err := ch.Value()
		if err != nil {
			L.PushNil()
			L.PushString(fmt.Sprintf("undecodable value: %v", err))
			return 2
		}
		L.PushString(string(raw))
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.write", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) || !L.IsString(3) || !L.IsString(4) {
			L.RaiseError("write(device_id, service, characteristic, data [, no_response]) expects four strings")
			return 0
		}
		withResponse := true
		if L.GetTop() >= 5 && L.IsBoolean(5) && L.ToBoolean(5) {
			withResponse = false
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		_, err := a.mgr.Write(ctx, L.ToString(1), L.ToString(2), L.ToString(3), []byte(L.ToString(4)), withResponse)
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		L.PushBoolean(true)
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.rssi", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("rssi(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		rssi, err := a.mgr.ReadRSSI(ctx, L.ToString(1))
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		L.PushInteger(int64(rssi))
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.mtu", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsNumber(2) {
			L.RaiseError("mtu(device_id, mtu) expects a device id and a number")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		granted, err := a.mgr.RequestMTU(ctx, L.ToString(1), L.ToInteger(2))
		if err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		L.PushInteger(int64(granted))
		L.PushNil()
		return 2
	})

	a.reg(L, "blemux.monitor", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) || !L.IsString(3) {
			L.RaiseError("monitor(device_id, service, characteristic, callback) expects three strings and a function")
			return 0
		}
		if !L.IsFunction(4) {
			L.RaiseError("monitor(device_id, service, characteristic, callback) expects a callback function")
			return 0
		}
		deviceID, svc, chr := L.ToString(1), L.ToString(2), L.ToString(3)

		return a.startStream(L, "monitor", 4, func(ref int) (*manager.Subscription, error) {
			return a.mgr.MonitorCharacteristic(deviceID, svc, chr, func(terr *transport.Error, ch *transport.Characteristic) {
				if terr != nil {
					a.enqueueError(ref, "monitor", terr)
					return
				}
				raw, err := ch.Value()
				if err != nil {
					a.enqueueError(ref, "monitor", err)
					return
				}
				data := string(raw)
				a.engine.EnqueueCall("monitor", ref, func(L *lua.State) int {
					L.PushString(data)
					L.PushNil()
					return 2
				})
			})
		})
	})
}

// runScan collects advertisements for the given window while pumping
// callbacks, then pushes the result table. Entries are deduplicated by
// device id, keeping the newest report.
func (a *API) runScan(L *lua.State, window time.Duration) int {
	var (
		mu      sync.Mutex
		order   []string
		byID    = make(map[string]*transport.Advertisement)
		scanErr *transport.Error
	)

	sub, err := a.mgr.StartDeviceScan(nil, false, func(terr *transport.Error, adv *transport.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		if terr != nil {
			if scanErr == nil {
				scanErr = terr
			}
			return
		}
		if _, seen := byID[adv.DeviceID]; !seen {
			order = append(order, adv.DeviceID)
		}
		byID[adv.DeviceID] = adv
	})
	if err != nil {
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}

	pumpErr := a.engine.pumpFor(L, window)
	a.mgr.StopDeviceScan()
	sub.Remove()
	if pumpErr != nil {
		L.RaiseError("scan interrupted: " + pumpErr.Error())
		return 0
	}

	mu.Lock()
	defer mu.Unlock()
	if scanErr != nil {
		L.PushNil()
		L.PushString(scanErr.Error())
		return 2
	}

	// Dual table: ipairs() walks device ids in discovery order,
	// result[id] holds the per-device details.
	L.NewTable()
	for i, id := range order {
		adv := byID[id]

		L.PushInteger(int64(i + 1))
		L.PushString(id)
		L.SetTable(-3)

		L.PushString(id)
		a.pushAdvertisement(L, adv)
		L.SetTable(-3)
	}
	L.PushNil()
	return 2
}

func (a *API) pushAdvertisement(L *lua.State, adv *transport.Advertisement) {
	L.NewTable()
	setStr(L, "id", adv.DeviceID)
	setStr(L, "name", adv.LocalName)
	setInt(L, "rssi", int64(adv.RSSI))
	setBool(L, "connectable", adv.Connectable)
	if fam, ok := profile.Identify(adv.ServiceUUIDs); ok {
		setStr(L, "family", fam.Name)
	}

	L.PushString("services")
	L.NewTable()
	for i, uuid := range adv.ServiceUUIDs {
		L.PushInteger(int64(i + 1))
		L.PushString(uuid)
		L.SetTable(-3)
	}
	L.SetTable(-3)
}

func (a *API) pushPeripheral(L *lua.State, p *transport.Peripheral) {
	L.NewTable()
	setStr(L, "id", p.DeviceID)
	setStr(L, "name", p.Name)
	setInt(L, "mtu", int64(p.MTU))

	L.PushString("services")
	a.pushServices(L, p.Services)
	L.SetTable(-3)
}

// pushServices builds a dual table: ipairs() yields service UUIDs in
// discovery order, table[uuid] holds {characteristics={...}}.
func (a *API) pushServices(L *lua.State, services []transport.Service) {
	L.NewTable()
	for i, svc := range services {
		L.PushInteger(int64(i + 1))
		L.PushString(svc.UUID)
		L.SetTable(-3)

		L.PushString(svc.UUID)
		L.NewTable()
		L.PushString("characteristics")
		L.NewTable()
		for j, ch := range svc.Characteristics {
			L.PushInteger(int64(j + 1))
			L.PushString(ch.UUID)
			L.SetTable(-3)
		}
		L.SetTable(-3)
		L.SetTable(-3)
	}
}

// startStream registers the callback at stack index cbIdx, starts the
// subscription and pushes (handle, nil) or (nil, message). The handle
// carries the subscription id and a stop() function.
func (a *API) startStream(L *lua.State, label string, cbIdx int, start func(ref int) (*manager.Subscription, error)) int {
	L.PushValue(cbIdx)
	ref := L.Ref(lua.LUA_REGISTRYINDEX)

	sub, err := start(ref)
	if err != nil {
		L.Unref(lua.LUA_REGISTRYINDEX, ref)
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}
	a.track(sub, ref)

	L.NewTable()
	setStr(L, "id", sub.ID())
	L.PushString("stop")
	L.PushGoFunction(a.engine.protect(label+".stop()", func(L *lua.State) int {
		if a.untrack(sub.ID()) {
			sub.Remove()
			L.Unref(lua.LUA_REGISTRYINDEX, ref)
		}
		return 0
	}))
	L.SetTable(-3)

	L.PushNil()
	return 2
}

// enqueueError schedules a (nil, message) callback invocation.
func (a *API) enqueueError(ref int, label string, err error) {
	msg := err.Error()
	a.engine.EnqueueCall(label, ref, func(L *lua.State) int {
		L.PushNil()
		L.PushString(msg)
		return 2
	})
}

func setStr(L *lua.State, key, value string) {
	L.PushString(key)
	L.PushString(value)
	L.SetTable(-3)
}

func setInt(L *lua.State, key string, value int64) {
	L.PushString(key)
	L.PushInteger(value)
	L.SetTable(-3)
}

func setNum(L *lua.State, key string, value float64) {
	L.PushString(key)
	L.PushNumber(value)
	L.SetTable(-3)
}

func setBool(L *lua.State, key string, value bool) {
	L.PushString(key)
	L.PushBoolean(value)
	L.SetTable(-3)
}
