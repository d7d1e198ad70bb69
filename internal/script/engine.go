// Package script embeds a Lua interpreter and exposes the toolkit's
// session operations to automation scripts. The engine captures all
// print output into a ring channel so hosts can stream or collect it,
// and marshals notification callbacks onto the goroutine that owns the
// interpreter state.
package script

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/ringchan"
)

const (
	// outputBuffer bounds buffered print output before the oldest
	// record is dropped.
	outputBuffer = 100

	// callbackBuffer bounds queued notification callbacks awaiting a
	// dispatch point.
	callbackBuffer = 256
)

// OutputRecord is one captured line of script output.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Engine owns one Lua state. All state access is serialized through the
// engine mutex; callbacks queued from other goroutines run only at
// dispatch points (sleep inside a script, Pump outside one).
type Engine struct {
	state  *lua.State
	mu     sync.Mutex
	logger *logrus.Logger
	chunk  string
	closed bool

	// runCtx is set for the duration of ExecuteScript so API functions
	// can bound their operations and observe cancellation. It is only
	// touched under mu or from the script goroutine itself.
	runCtx context.Context

	out   *ringchan.RingChannel[OutputRecord]
	calls *ringchan.RingChannel[queuedCall]
}

// queuedCall is a Lua callback waiting for the interpreter goroutine.
// push places the arguments on the stack and returns their count.
type queuedCall struct {
	name string
	ref  int
	push func(L *lua.State) int
}

// NewEngine creates an engine with print capture installed.
func NewEngine(logger *logrus.Logger) *Engine {
	e := &Engine{
		logger: logger,
		out:    ringchan.New[OutputRecord](outputBuffer),
		calls:  ringchan.New[queuedCall](callbackBuffer),
	}
	e.Reset()
	logger.Debug("Script engine initialized")
	return e
}

// DoWithState runs callback with the engine lock held. It returns nil
// without invoking callback once the engine is closed.
func (e *Engine) DoWithState(callback func(*lua.State) interface{}) interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return nil
	}
	return callback(e.state)
}

// Reset discards the current interpreter state and installs a fresh
// one. Loaded chunks and registered callbacks do not survive a reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	if e.closed {
		return
	}
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrintLocked()
	e.registerWriteLocked()
	e.sandboxLocked()
	e.preloadJSONLocked()
}

// Close tears down the interpreter and closes the output channel.
// Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.out.Close()
}

// OutputChannel returns the stream of captured print output. The
// channel closes when the engine does.
func (e *Engine) OutputChannel() <-chan OutputRecord {
	return e.out.C()
}

// RunContext returns the context of the script currently executing, or
// Background outside of a run. API functions derive their operation
// deadlines from it.
func (e *Engine) RunContext() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// emit records one line of captured output. Callers hold the engine
// lock, which also guarantees the channel is still open.
func (e *Engine) emit(source, content string) {
	e.out.Send(OutputRecord{
		Content:   content,
		Timestamp: time.Now(),
		Source:    source,
	})
}

// renderValue formats the stack value at i the way Lua's print does,
// falling back to tostring() for tables, functions and userdata.
func renderValue(L *lua.State, i int) string {
	switch {
	case L.IsNil(i):
		return "nil"
	case L.IsBoolean(i):
		if L.ToBoolean(i) {
			return "true"
		}
		return "false"
	case L.IsNumber(i):
		return fmt.Sprintf("%v", L.ToNumber(i))
	case L.IsString(i):
		return L.ToString(i)
	default:
		L.GetGlobal("tostring")
		L.PushValue(i)
		L.Call(1, 1)
		s := L.ToString(-1)
		L.Pop(1)
		return s
	}
}

// registerPrintLocked replaces the global print with a capturing
// version. Arguments are rendered the way Lua's print does: tab
// separated, tostring() for non-scalar values, trailing newline.
func (e *Engine) registerPrintLocked() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, renderValue(L, i))
		}
		e.emit("stdout", strings.Join(parts, "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")
}

// registerWriteLocked replaces io.write with a capturing version.
// Unlike print, arguments are concatenated with no separator and no
// trailing newline.
func (e *Engine) registerWriteLocked() {
	L := e.state
	L.GetGlobal("io")
	if L.IsTable(-1) {
		L.PushString("write")
		L.PushGoFunction(func(L *lua.State) int {
			top := L.GetTop()
			parts := make([]string, 0, top)
			for i := 1; i <= top; i++ {
				parts = append(parts, renderValue(L, i))
			}
			e.emit("stdout", strings.Join(parts, ""))
			return 0
		})
		L.SetTable(-3)
	}
	L.Pop(1)
}

// sandboxLocked stubs out the interpreter functions that reach the
// process or the filesystem. Scripts drive devices; they do not run
// programs or read files.
func (e *Engine) sandboxLocked() {
	L := e.state
	blocked := []string{
		"os.execute",
		"os.exit",
		"os.remove",
		"os.rename",
		"io.read",
		"io.lines",
		"io.open",
		"dofile",
		"loadfile",
	}
	for _, name := range blocked {
		fn := func(L *lua.State) int {
			L.RaiseError(fmt.Sprintf("%s is blocked", name))
			return 0
		}
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			L.GetGlobal(name[:dot])
			if L.IsTable(-1) {
				L.PushString(name[dot+1:])
				L.PushGoFunction(fn)
				L.SetTable(-3)
			}
			L.Pop(1)
		} else {
			L.PushGoFunction(fn)
			L.SetGlobal(name)
		}
	}
}

// protect wraps a Go function exposed to Lua with panic containment.
// Lua errors raised through the interpreter pass through untouched;
// anything else is logged and re-raised as a Lua error so one broken
// binding cannot take the process down.
func (e *Engine) protect(name string, fn func(*lua.State) int) func(*lua.State) int {
	return func(L *lua.State) int {
		defer func() {
			if r := recover(); r != nil {
				if lerr, ok := r.(*lua.LuaError); ok {
					panic(lerr)
				}
				e.logger.WithFields(logrus.Fields{
					"function": name,
					"panic":    r,
				}).Error("Script API function panicked")
				L.RaiseError(fmt.Sprintf("%s: internal error: %v", name, r))
			}
		}()
		return fn(L)
	}
}

// LoadScriptFile reads and validates a script from disk.
func (e *Engine) LoadScriptFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", filename, err)
	}
	return e.LoadScript(string(content), filename)
}

// LoadScript compiles source without running it, so syntax problems
// surface before any device traffic. The chunk is kept for a later
// ExecuteScript("").
func (e *Engine) LoadScript(source, name string) error {
	if source == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	e.chunk = source

	var loadErr error
	e.DoWithState(func(L *lua.State) interface{} {
		if status := L.LoadString(source); status != 0 {
			luaErr := e.parseErrorLocked("syntax", name)
			e.emit("stderr", fmt.Sprintf("Lua syntax error: %s\n", luaErr.Message))
			loadErr = luaErr
			return nil
		}
		L.Pop(1)
		return nil
	})
	return loadErr
}

// ExecuteScript runs source, or the previously loaded chunk when source
// is empty. Failures come back as *LuaError: "syntax" when the chunk
// does not compile, "runtime" when it compiles but errors.
//
// Cancellation is observed at API call boundaries (sleep, session
// operations); a script busy in pure Lua is not preempted. A run that
// aborts because ctx ended reports the context's error, not the Lua
// error the interruption produced.
func (e *Engine) ExecuteScript(ctx context.Context, source string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if source != "" {
		if err := e.LoadScript(source, "inline script"); err != nil {
			return err
		}
	}
	if e.chunk == "" {
		return &LuaError{Type: "api", Message: "no script loaded"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return &LuaError{Type: "api", Message: "engine is closed"}
	}

	e.runCtx = ctx
	err := e.state.DoString(e.chunk)
	e.runCtx = nil

	if err != nil {
		luaErr := e.parseErrorLocked("runtime", "")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		luaErr.Underlying = err
		e.emit("stderr", fmt.Sprintf("Lua runtime error: %s\n", luaErr.Message))
		return luaErr
	}
	return nil
}

// ExecuteFunction calls a global function defined by a previously
// executed script.
func (e *Engine) ExecuteFunction(name string) error {
	var funcErr error
	called := false
	e.DoWithState(func(L *lua.State) interface{} {
		called = true
		L.GetGlobal(name)
		if !L.IsFunction(-1) {
			L.Pop(1)
			funcErr = fmt.Errorf("function %s not found or not a function", name)
			return nil
		}
		if err := L.Call(0, 0); err != nil {
			funcErr = fmt.Errorf("failed to call function %s: %w", name, err)
		}
		return nil
	})
	if !called {
		return &LuaError{Type: "api", Message: "engine is closed"}
	}
	return funcErr
}

// EnqueueCall schedules a Lua callback for the next dispatch point.
// Safe from any goroutine; when the queue is full the oldest pending
// call is dropped.
func (e *Engine) EnqueueCall(name string, ref int, push func(L *lua.State) int) {
	if dropped := e.calls.Send(queuedCall{name: name, ref: ref, push: push}); dropped {
		e.logger.WithField("callback", name).Warn("Script callback queue overflowed, oldest call dropped")
	}
}

// invoke runs one queued callback. The caller owns the interpreter
// state. Callback failures go to the script's stderr stream and reset
// the stack; they never propagate.
func (e *Engine) invoke(L *lua.State, qc queuedCall) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"callback": qc.name,
				"panic":    r,
			}).Error("Script callback panicked")
			e.emit("stderr", fmt.Sprintf("callback error: %v\n", r))
			L.SetTop(0)
		}
	}()

	L.RawGeti(lua.LUA_REGISTRYINDEX, qc.ref)
	if !L.IsFunction(-1) {
		// The subscription was stopped after this call was queued.
		L.Pop(1)
		return
	}
	nargs := qc.push(L)
	if err := L.Call(nargs, 0); err != nil {
		e.logger.WithField("callback", qc.name).WithError(err).Error("Script callback failed")
		e.emit("stderr", fmt.Sprintf("callback error: %v\n", err))
		L.SetTop(0)
	}
}

// pumpFor delivers queued callbacks on the calling goroutine until d
// elapses. Must run from inside an executing script, where the caller
// already owns the interpreter state. Returns the run context's error
// when the script was cancelled mid-wait.
func (e *Engine) pumpFor(L *lua.State, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var done <-chan struct{}
	if e.runCtx != nil {
		done = e.runCtx.Done()
	}

	for {
		select {
		case qc, ok := <-e.calls.C():
			if !ok {
				return nil
			}
			e.invoke(L, qc)
		case <-timer.C:
			return nil
		case <-done:
			return e.runCtx.Err()
		}
	}
}

// Pump delivers queued callbacks until ctx ends. Hosts call it after a
// script body returns while its subscriptions are still live.
func (e *Engine) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qc, ok := <-e.calls.C():
			if !ok {
				return
			}
			e.DoWithState(func(L *lua.State) interface{} {
				e.invoke(L, qc)
				return nil
			})
		}
	}
}

// SetGlobal sets a global scalar in the interpreter.
func (e *Engine) SetGlobal(name string, value interface{}) error {
	res := e.DoWithState(func(L *lua.State) interface{} {
		switch v := value.(type) {
		case string:
			L.PushString(v)
		case int:
			L.PushInteger(int64(v))
		case int64:
			L.PushInteger(v)
		case float64:
			L.PushNumber(v)
		case bool:
			L.PushBoolean(v)
		default:
			return fmt.Errorf("unsupported type for global variable %s", name)
		}
		L.SetGlobal(name)
		return nil
	})
	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// GetGlobalString reads a global string set by the script.
func (e *Engine) GetGlobalString(name string) (string, error) {
	var result string
	var err error
	e.DoWithState(func(L *lua.State) interface{} {
		L.GetGlobal(name)
		defer L.Pop(1)
		if !L.IsString(-1) {
			err = fmt.Errorf("global variable %s is not a string", name)
			return nil
		}
		result = L.ToString(-1)
		return nil
	})
	return result, err
}

// GetGlobalInteger reads a global number set by the script.
func (e *Engine) GetGlobalInteger(name string) (int, error) {
	var result int
	var err error
	e.DoWithState(func(L *lua.State) interface{} {
		L.GetGlobal(name)
		defer L.Pop(1)
		if !L.IsNumber(-1) {
			err = fmt.Errorf("global variable %s is not a number", name)
			return nil
		}
		result = L.ToInteger(-1)
		return nil
	})
	return result, err
}
