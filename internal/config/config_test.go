package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/transport"
)

func TestNewCarriesDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.Equal(t, "table", c.OutputFormat)
	assert.Equal(t, 10*time.Second, c.ScanTimeout.Std())
	assert.Equal(t, 30*time.Second, c.ConnectTimeout.Std())
	assert.Equal(t, 10*time.Second, c.CommandTimeout.Std())
	assert.Equal(t, 4096, c.Bridge.StdinBufferSize)
	assert.Equal(t, 65536, c.Bridge.StdoutBufferSize)
	assert.Empty(t, c.Bridge.TTYSymlink)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blemux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
log_format: json
scan_timeout: 3s
messages:
  201: "the peripheral went away"
bridge:
  stdout_buffer_size: 1024
  tty_symlink: /tmp/blemux-tty
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, 3*time.Second, c.ScanTimeout.Std())
	assert.Equal(t, 30*time.Second, c.ConnectTimeout.Std(), "untouched values keep their defaults")
	assert.Equal(t, 1024, c.Bridge.StdoutBufferSize)
	assert.Equal(t, 4096, c.Bridge.StdinBufferSize, "untouched bridge values keep their defaults")
	assert.Equal(t, "/tmp/blemux-tty", c.Bridge.TTYSymlink)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown log level", "log_level: chatty\n"},
		{"unknown log format", "log_format: xml\n"},
		{"unknown output format", "output_format: csv\n"},
		{"malformed duration", "scan_timeout: soon\n"},
		{"not yaml", "{{{\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestDurationAcceptsNanosecondInteger(t *testing.T) {
	c, err := Load(writeConfig(t, "scan_timeout: 5000000000\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.ScanTimeout.Std())
}

func TestNewLoggerHonorsLevelAndFormat(t *testing.T) {
	c := New()
	c.LogLevel = "debug"
	c.LogFormat = "json"

	logger := c.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	c.LogFormat = "text"
	assert.IsType(t, &logrus.TextFormatter{}, c.NewLogger().Formatter)
}

func TestMessageTableMergesOverBuiltins(t *testing.T) {
	c := New()
	c.Messages = map[int]string{int(transport.CodeDeviceDisconnected): "the peripheral went away"}

	table := c.MessageTable()
	assert.Equal(t, "the peripheral went away", table.Describe(transport.CodeDeviceDisconnected))
	assert.Equal(t, "device not found", table.Describe(transport.CodeDeviceNotFound), "codes without overrides keep the built-in text")
}
