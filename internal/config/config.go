// Package config loads the toolkit configuration file and builds the
// pieces the rest of the toolkit consumes from it: the injected
// logger, default timeouts and the error message table. Command-line
// flags are expected to win over file values; the file wins over the
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blemux/internal/transport"
)

// DefaultFileName is looked up in the user's home directory when no
// explicit config path is given.
const DefaultFileName = ".blemux.yaml"

// Duration is a YAML-friendly duration: the file carries "10s" style
// strings. Bare integers are accepted as nanoseconds, which is how
// yaml.v3 reads a plain time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

// Std returns the standard library view.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the file-backed configuration.
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	LogFormat    string `yaml:"log_format" default:"text"`
	OutputFormat string `yaml:"output_format" default:"table"`

	ScanTimeout    Duration `yaml:"scan_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`

	// Messages overrides error-code descriptions, keyed by numeric
	// code. Codes absent here keep their built-in text.
	Messages map[int]string `yaml:"messages"`

	Bridge BridgeConfig `yaml:"bridge"`
}

// BridgeConfig carries the PTY bridge defaults.
type BridgeConfig struct {
	StdinBufferSize  int    `yaml:"stdin_buffer_size" default:"4096"`
	StdoutBufferSize int    `yaml:"stdout_buffer_size" default:"65536"`
	TTYSymlink       string `yaml:"tty_symlink"`
}

// New returns the built-in defaults.
func New() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	// go-defaults cannot express durations; they are set here.
	c.ScanTimeout = Duration(10 * time.Second)
	c.ConnectTimeout = Duration(30 * time.Second)
	c.CommandTimeout = Duration(10 * time.Second)
	return c
}

// Load reads the YAML file at path over the built-in defaults. An
// empty path selects DefaultFileName in the user's home directory, and
// that file being absent is not an error: the defaults come back
// as-is. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := New()
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, DefaultFileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want text or json)", c.LogFormat)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output_format %q (want table or json)", c.OutputFormat)
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// MessageTable merges the file's code->message overrides over the
// built-in descriptions.
func (c *Config) MessageTable() transport.MessageTable {
	table := transport.DefaultMessages()
	for code, msg := range c.Messages {
		table[transport.ErrorCode(code)] = msg
	}
	return table
}
