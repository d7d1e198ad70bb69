package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/oximeter"
)

// oximeterCmd groups the pulse oximeter commands.
var oximeterCmd = &cobra.Command{
	Use:   "oximeter",
	Short: "Pulse oximeter commands",
	Long: fmt.Sprintf(`Commands for the supported pulse oximeter family. The probe starts
streaming as soon as notifications are enabled; there is nothing to
write.

Examples:
  blemux oximeter stream %s

%s`, exampleDeviceAddress, deviceAddressNote),
}

var oximeterStreamCmd = &cobra.Command{
	Use:   "stream <device-address>",
	Short: "Stream SpO2 and pulse readings until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorStream(cmd, args[0], "oximeter", "Streaming oximeter samples", nil, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			return oximeter.NewClient(sess.Manager, args[0]).Stream(func(err error, s *oximeter.Sample) {
				if err != nil {
					if isTerminalStreamError(err) {
						reportStreamError(failed, err)
						return
					}
					sess.Logger.WithError(err).Warn("dropping unaligned oximeter frame")
					return
				}
				switch {
				case s.FingerOut:
					fmt.Println("finger out")
				case !s.Valid():
					fmt.Println("searching for pulse...")
				default:
					fmt.Printf("SpO2 %d%%  pulse %d bpm  pleth %d  signal %d\n",
						s.SpO2, s.PulseRate, s.Pleth, s.Signal)
				}
			}, txOptions(vendorTx)...)
		})
	},
}

func init() {
	addVendorFlags(oximeterCmd)

	oximeterCmd.AddCommand(oximeterStreamCmd)
}
