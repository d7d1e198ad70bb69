package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/config"
	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/transport"
	"github.com/srg/blemux/internal/transport/goble"
)

// session bundles the manager over the platform transport with the
// loaded configuration for the lifetime of one command.
type session struct {
	Manager *manager.Manager
	Config  *config.Config
	Logger  *logrus.Logger
}

// newSession builds the manager stack every device command runs on.
// Close destroys the manager, which cancels anything still in flight.
func newSession(cfg *config.Config, logger *logrus.Logger) *session {
	m := manager.New(goble.New(logger), logger, &manager.Options{
		Messages: cfg.MessageTable(),
	})
	return &session{Manager: m, Config: cfg, Logger: logger}
}

func (s *session) Close() {
	if err := s.Manager.Destroy(); err != nil {
		s.Logger.WithError(err).Warn("manager teardown reported an error")
	}
}

// connect dials the device and waits for the link to come up, bounded
// by the configured connect timeout.
func (s *session) connect(ctx context.Context, address string) (*transport.Peripheral, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.ConnectTimeout.Std())
	defer cancel()
	p, err := s.Manager.Connect(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return p, nil
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// commandContext bounds one mediated command with the configured
// timeout, unless the caller overrode it with --timeout.
func commandContext(parent context.Context, cfg *config.Config, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := cfg.CommandTimeout.Std()
	if override > 0 {
		timeout = override
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
