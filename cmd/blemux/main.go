package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blemux",
	Short: "Transaction-mediated BLE device toolkit",
	Long: `Bluetooth Low Energy (BLE) command-line tool that provides:

- Scan and discover nearby BLE devices, with vendor-family recognition
- Explore GATT services and characteristics of a device
- Read, write, and monitor characteristics by transaction id
- Talk to supported vendor devices (scale, tracker, blood pressure
  monitor, glucometer, oximeter) through their binary command protocols
- Bridge a notification stream to a PTY for serial-like access
- Lua scripting API for automation; see the run command

Every operation runs through the transaction mediation layer: it can be
cancelled by its transaction id and settles exactly once.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(trackerCmd)
	rootCmd.AddCommand(bpmCmd)
	rootCmd.AddCommand(glucoseCmd)
	rootCmd.AddCommand(oximeterCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ~/.blemux.yaml)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
