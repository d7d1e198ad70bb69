package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <char-uuid> <data>",
	Short: "Write to a characteristic",
	Long: fmt.Sprintf(`Writes data to a BLE characteristic through the mediation layer.

Examples:
  # Write string data
  blemux write %s 2a06 "high" --service 1802

  # Write hex data
  blemux write %s 2a06 01 --service 1802 --hex

  # Write without response (faster, no ACK)
  blemux write %s ffe9 "AT" --service ffe0 --without-response

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeHex         bool
	writeNoResponse  bool
	writeTimeout     time.Duration
	writeTx          string
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID the characteristic lives on (required)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (faster, no ACK)")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 0, "Write timeout (0 uses the configured default)")
	writeCmd.Flags().StringVar(&writeTx, "tx", "", "Explicit transaction id for later cancellation")
	_ = writeCmd.MarkFlagRequired("service")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, charUUID, dataStr := args[0], args[1], args[2]

	data, err := parseWriteData(dataStr, writeHex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

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

	progress := NewProgressPrinter(fmt.Sprintf("Writing %d bytes to %s on %s", len(data), charUUID, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}

	progress.SetPhase("Writing")
	opCtx, opCancel := commandContext(ctx, cfg, writeTimeout)
	defer opCancel()

	_, err = sess.Manager.Write(opCtx, address, writeServiceUUID, charUUID, data, !writeNoResponse, txOptions(writeTx)...)
	if err != nil {
		return err
	}
	progress.Stop()

	fmt.Println("Write successful")
	return nil
}

// parseWriteData converts input string to bytes based on the hex flag.
func parseWriteData(dataStr string, asHex bool) ([]byte, error) {
	if asHex {
		// Remove spaces and common separators
		cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(dataStr)
		data, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return data, nil
	}
	return []byte(dataStr), nil
}

// txOptions turns the --tx flag into operation options.
func txOptions(tx string) []manager.TxOption {
	if tx == "" {
		return nil
	}
	return []manager.TxOption{manager.WithTransactionID(tx)}
}
