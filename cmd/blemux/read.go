package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <char-uuid>",
	Short: "Read a characteristic value",
	Long: fmt.Sprintf(`Connects to a BLE device and reads one characteristic value.

Examples:
  # Read battery level
  blemux read %s 2a19 --service 180f

  # Raw bytes to stdout
  blemux read %s 2a00 --service 1800 --raw

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readRaw         bool
	readTimeout     time.Duration
	readTx          string
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID the characteristic lives on (required)")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "Write raw bytes to stdout; hex dump by default")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 0, "Read timeout (0 uses the configured default)")
	readCmd.Flags().StringVar(&readTx, "tx", "", "Explicit transaction id for later cancellation")
	_ = readCmd.MarkFlagRequired("service")
}

func runRead(cmd *cobra.Command, args []string) error {
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

	progress := NewProgressPrinter(fmt.Sprintf("Reading %s on %s", charUUID, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}

	progress.SetPhase("Reading")
	opCtx, opCancel := commandContext(ctx, cfg, readTimeout)
	defer opCancel()

	ch, err := sess.Manager.Read(opCtx, address, readServiceUUID, charUUID, txOptions(readTx)...)
	if err != nil {
		return err
	}
	progress.Stop()

	value, err := ch.Value()
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if readRaw {
		_, err = os.Stdout.Write(value)
		return err
	}
	fmt.Println(hex.EncodeToString(value))
	return nil
}
