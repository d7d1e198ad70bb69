package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/glucometer"
)

// glucoseCmd groups the blood glucose meter commands.
var glucoseCmd = &cobra.Command{
	Use:   "glucose",
	Short: "Blood glucose meter commands",
	Long: fmt.Sprintf(`Commands for the supported blood glucose meter family.

Examples:
  blemux glucose set-time %s
  blemux glucose records %s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
}

var glucoseSetTimeCmd = &cobra.Command{
	Use:   "set-time <device-address>",
	Short: "Set the meter clock to the current local time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorOp(cmd, args[0], "Setting glucometer time", func(ctx context.Context, sess *session) error {
			return glucometer.NewClient(sess.Manager, args[0]).SetTime(ctx, txOptions(vendorTx)...)
		})
	},
}

var glucoseRecordsCmd = &cobra.Command{
	Use:   "records <device-address>",
	Short: "Fetch stored readings one by one until interrupted",
	Long: `Subscribes to the record stream and repeatedly requests the next stored
reading. Every decoded record requests the following one, so the whole
log drains until the meter has nothing left or the command is
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kick := func(ctx context.Context, sess *session) error {
			return glucometer.NewClient(sess.Manager, args[0]).FetchAdditionalRecord(ctx)
		}
		return vendorStream(cmd, args[0], "glucose", "Fetching glucose records", kick, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			c := glucometer.NewClient(sess.Manager, args[0])

			// Every decoded record pulls the following one, so the log
			// drains until the meter has nothing left.
			next := func() {
				ctx, cancel := commandContext(context.Background(), sess.Config, vendorTimeout)
				defer cancel()
				if err := c.FetchAdditionalRecord(ctx); err != nil {
					reportStreamError(failed, err)
				}
			}

			return c.Stream(func(err error, r *glucometer.Record) {
				if err != nil {
					if isTerminalStreamError(err) {
						reportStreamError(failed, err)
						return
					}
					sess.Logger.WithError(err).Warn("dropping undecodable glucometer frame")
					return
				}
				fmt.Printf("#%d  %s  %.1f mmol/L\n", r.Sequence, r.Taken.Format("2006-01-02 15:04:05"), r.MmolL)
				next()
			}, txOptions(vendorTx)...)
		})
	},
}

func init() {
	addVendorFlags(glucoseCmd)

	glucoseCmd.AddCommand(glucoseSetTimeCmd)
	glucoseCmd.AddCommand(glucoseRecordsCmd)
}
