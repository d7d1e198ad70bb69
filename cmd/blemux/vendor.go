package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile"
	"github.com/srg/blemux/internal/transport"
)

// Shared flags of every vendor device command.
var (
	vendorTimeout time.Duration
	vendorTx      string
	vendorHex     bool
)

// addVendorFlags attaches the flags common to the vendor command
// groups to group and all its subcommands.
func addVendorFlags(group *cobra.Command) {
	group.PersistentFlags().DurationVar(&vendorTimeout, "timeout", 0, "Command timeout (0 uses the configured default)")
	group.PersistentFlags().StringVar(&vendorTx, "tx", "", "Explicit transaction id for later cancellation")
	group.PersistentFlags().BoolVar(&vendorHex, "hex", false, "Print raw frames as hex instead of decoded values")
}

// vendorOp runs one connected-device command: session setup, connect,
// the operation, teardown. The operation receives a context bounded by
// --timeout or the configured command timeout.
func vendorOp(cmd *cobra.Command, address, label string, op func(ctx context.Context, sess *session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	sess := newSession(cfg, logger)
	defer sess.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("%s on %s", label, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}

	progress.SetPhase("Working")
	opCtx, opCancel := commandContext(ctx, cfg, vendorTimeout)
	defer opCancel()

	if err := op(opCtx, sess); err != nil {
		return err
	}
	progress.Stop()
	fmt.Println("OK")
	return nil
}

// vendorStream runs a streaming command: connect, start the stream,
// print values until Ctrl+C or a terminal stream error. start builds
// the decoded subscription; with --hex the family's event
// characteristic is monitored raw instead. kick, when non-nil, issues
// the command that provokes the stream once the subscription is up.
func vendorStream(cmd *cobra.Command, address, family, label string,
	kick func(ctx context.Context, sess *session) error,
	start func(sess *session, failed chan<- error) (*manager.Subscription, error)) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	sess := newSession(cfg, logger)
	defer sess.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("%s on %s", label, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}
	progress.Stop()

	failed := make(chan error, 1)
	var sub *manager.Subscription
	if vendorHex {
		sub, err = rawFamilyStream(sess, failed, family, address)
	} else {
		sub, err = start(sess, failed)
	}
	if err != nil {
		return err
	}
	defer sub.Remove()

	if kick != nil {
		kickCtx, kickCancel := commandContext(ctx, cfg, vendorTimeout)
		err = kick(kickCtx, sess)
		kickCancel()
		if err != nil {
			sub.Remove()
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "%s. Press Ctrl+C to stop...\n", label)

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	case <-sub.Done():
		select {
		case err := <-failed:
			return err
		default:
			return nil
		}
	}
}

// rawFamilyStream monitors the family's event characteristic and prints
// every frame as hex, bypassing the decoders.
func rawFamilyStream(sess *session, failed chan<- error, family, address string) (*manager.Subscription, error) {
	f, ok := profile.Lookup(family)
	if !ok {
		return nil, fmt.Errorf("unknown device family %q", family)
	}
	return sess.Manager.MonitorCharacteristic(address, f.Endpoints.Service, f.Endpoints.Events, func(serr *transport.Error, ch *transport.Characteristic) {
		if serr != nil {
			reportStreamError(failed, serr)
			return
		}
		value, err := ch.Value()
		if err != nil {
			sess.Logger.WithError(err).Warn("dropping undecodable notification")
			return
		}
		fmt.Println(hex.EncodeToString(value))
	}, txOptions(vendorTx)...)
}

// reportStreamError pushes the first terminal error into failed without
// blocking the delivery goroutine.
func reportStreamError(failed chan<- error, err error) {
	select {
	case failed <- err:
	default:
	}
}
