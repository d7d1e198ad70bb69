package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LuaError carries the details of a script failure. Type is one of
// "syntax" (chunk does not compile), "runtime" (chunk failed while
// running) or "api" (the host misused the engine).
type LuaError struct {
	Type       string
	Message    string
	Line       int
	Source     string
	StackTrace string
	Underlying error
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "Lua error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("Lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	result := fmt.Sprintf("%s: %s", prefix, e.Message)
	if e.StackTrace != "" {
		result += "\n" + e.StackTrace
	}
	return result
}

func (e *LuaError) Unwrap() error {
	return e.Underlying
}

// Is matches errors of the same Type, so callers can probe for a class
// of failure without holding the exact value.
func (e *LuaError) Is(target error) bool {
	if target == nil {
		return false
	}
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// splitLuaMessage takes an interpreter message of the form
// "chunk:line: text" and separates the line number from the text. When
// the message does not carry a position, line is 0 and the message
// comes back whole.
func splitLuaMessage(msg string) (line int, message string) {
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n > 0 {
			return n, strings.TrimSpace(parts[2])
		}
	}
	return 0, msg
}

// parseErrorLocked builds a LuaError from the error object the
// interpreter left on the stack. The caller holds the engine lock.
func (e *Engine) parseErrorLocked(errType, source string) *LuaError {
	if e.state.GetTop() == 0 {
		return &LuaError{Type: errType, Message: "unknown Lua error", Source: source}
	}

	errMsg := "non-string error object"
	if e.state.IsString(-1) {
		errMsg = e.state.ToString(-1)
	}
	e.state.Pop(1)

	line, message := splitLuaMessage(errMsg)
	return &LuaError{
		Type:    errType,
		Message: message,
		Line:    line,
		Source:  source,
	}
}
