package script

import (
	"errors"
	"fmt"
	"testing"
)

func TestSplitLuaMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "file chunk with position",
			msg:      "test.lua:12: attempt to call a nil value",
			wantLine: 12,
			wantMsg:  "attempt to call a nil value",
		},
		{
			name:     "string chunk with position",
			msg:      `[string "inline script"]:3: boom`,
			wantLine: 3,
			wantMsg:  "boom",
		},
		{
			name:     "no position",
			msg:      "something went sideways",
			wantLine: 0,
			wantMsg:  "something went sideways",
		},
		{
			name:     "non numeric line field",
			msg:      "a:b: c",
			wantLine: 0,
			wantMsg:  "a:b: c",
		},
		{
			name:     "zero line keeps message whole",
			msg:      "chunk:0: odd",
			wantLine: 0,
			wantMsg:  "chunk:0: odd",
		},
		{
			name:     "message body keeps its own colons",
			msg:      "chunk:7: bad value: expected table",
			wantLine: 7,
			wantMsg:  "bad value: expected table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, msg := splitLuaMessage(tt.msg)
			if line != tt.wantLine {
				t.Errorf("splitLuaMessage(%q) line = %d, want %d", tt.msg, line, tt.wantLine)
			}
			if msg != tt.wantMsg {
				t.Errorf("splitLuaMessage(%q) message = %q, want %q", tt.msg, msg, tt.wantMsg)
			}
		})
	}
}

func TestLuaErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *LuaError
		want string
	}{
		{
			name: "bare message",
			err:  &LuaError{Type: "api", Message: "no script loaded"},
			want: "Lua error: no script loaded",
		},
		{
			name: "source and line",
			err:  &LuaError{Type: "syntax", Message: "unexpected symbol", Line: 4, Source: "probe.lua"},
			want: "Lua syntax error (in probe.lua, line 4): unexpected symbol",
		},
		{
			name: "line only",
			err:  &LuaError{Type: "runtime", Message: "boom", Line: 2},
			want: "Lua runtime error (line 2): boom",
		},
		{
			name: "stack trace appended",
			err:  &LuaError{Type: "runtime", Message: "boom", Line: 1, StackTrace: "stack: frame"},
			want: "Lua runtime error (line 1): boom\nstack: frame",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLuaErrorIsMatchesOnType(t *testing.T) {
	syntaxErr := &LuaError{Type: "syntax", Message: "one"}

	if !errors.Is(syntaxErr, &LuaError{Type: "syntax"}) {
		t.Error("errors.Is MUST match LuaError values of the same type")
	}
	if errors.Is(syntaxErr, &LuaError{Type: "runtime"}) {
		t.Error("errors.Is MUST NOT match LuaError values of a different type")
	}
	if syntaxErr.Is(nil) {
		t.Error("Is(nil) MUST be false")
	}

	wrapped := fmt.Errorf("run failed: %w", syntaxErr)
	var le *LuaError
	if !errors.As(wrapped, &le) {
		t.Fatal("errors.As MUST find the LuaError through wrapping")
	}
	if le.Message != "one" {
		t.Errorf("unwrapped message = %q, want %q", le.Message, "one")
	}
}

func TestLuaErrorUnwrap(t *testing.T) {
	inner := errors.New("interpreter said no")
	err := &LuaError{Type: "runtime", Message: "boom", Underlying: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is MUST reach the underlying error")
	}
	if (&LuaError{Type: "runtime"}).Unwrap() != nil {
		t.Error("Unwrap MUST be nil when no underlying error is set")
	}
}
