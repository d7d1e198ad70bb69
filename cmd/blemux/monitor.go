package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/transport"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address> <char-uuid>",
	Short: "Monitor characteristic notifications",
	Long: fmt.Sprintf(`Subscribes to notifications of one characteristic and prints every
update until interrupted.

Examples:
  # Watch heart rate measurements
  blemux monitor %s 2a37 --service 180d

  # Hex output, cancellable from another shell via the transaction id
  blemux monitor %s ffe4 --service ffe0 --hex --tx probe-1

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runMonitor,
}

var (
	monitorServiceUUID string
	monitorHex         bool
	monitorTx          string
)

func init() {
	monitorCmd.Flags().StringVar(&monitorServiceUUID, "service", "", "Service UUID the characteristic lives on (required)")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Output as hex string; raw bytes by default")
	monitorCmd.Flags().StringVar(&monitorTx, "tx", "", "Explicit transaction id for later cancellation")
	_ = monitorCmd.MarkFlagRequired("service")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address, charUUID := args[0], args[1]

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

	progress := NewProgressPrinter(fmt.Sprintf("Monitoring %s on %s", charUUID, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}
	progress.Stop()

	// Stream failures land on this channel so the command can exit with
	// the error instead of hanging.
	failed := make(chan error, 1)
	sub, err := sess.Manager.MonitorCharacteristic(address, monitorServiceUUID, charUUID, func(serr *transport.Error, ch *transport.Characteristic) {
		if serr != nil {
			select {
			case failed <- serr:
			default:
			}
			return
		}
		value, derr := ch.Value()
		if derr != nil {
			logger.WithError(derr).Warn("dropping undecodable notification")
			return
		}
		if monitorHex {
			fmt.Println(hex.EncodeToString(value))
			return
		}
		_, _ = os.Stdout.Write(value)
		fmt.Println()
	}, txOptions(monitorTx)...)
	if err != nil {
		return err
	}
	defer sub.Remove()

	fmt.Fprintf(os.Stderr, "Subscribed to %s. Press Ctrl+C to stop...\n", charUUID)

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
