package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/bpmonitor"
)

// bpmCmd groups the blood pressure monitor commands.
var bpmCmd = &cobra.Command{
	Use:   "bpm",
	Short: "Blood pressure monitor commands",
	Long: fmt.Sprintf(`Commands for the supported blood pressure monitor family.

Examples:
  blemux bpm start %s
  blemux bpm history %s
  blemux bpm set-time %s

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
}

func bpmFixedCmd(use, short, label string, op func(*bpmonitor.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device-address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return vendorOp(cmd, args[0], label, func(ctx context.Context, sess *session) error {
				return op(bpmonitor.NewClient(sess.Manager, args[0]), ctx)
			})
		},
	}
}

var bpmStartCmd = &cobra.Command{
	Use:   "start <device-address>",
	Short: "Start a measurement cycle and stream the progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kick := func(ctx context.Context, sess *session) error {
			return bpmonitor.NewClient(sess.Manager, args[0]).StartTest(ctx)
		}
		return vendorStream(cmd, args[0], "bpm", "Measuring blood pressure", kick, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			return bpmonitor.NewClient(sess.Manager, args[0]).Stream(func(err error, ev *bpmonitor.Event) {
				printBPMEvent(sess, failed, err, ev)
			}, txOptions(vendorTx)...)
		})
	},
}

func printBPMEvent(sess *session, failed chan<- error, err error, ev *bpmonitor.Event) {
	if err != nil {
		if isTerminalStreamError(err) {
			reportStreamError(failed, err)
			return
		}
		sess.Logger.WithError(err).Warn("dropping undecodable blood-pressure frame")
		return
	}
	switch ev.Kind {
	case bpmonitor.EventCuffPressure:
		fmt.Printf("cuff %d mmHg\n", ev.Pressure)
	case bpmonitor.EventReading:
		r := ev.Reading
		fmt.Printf("%d/%d mmHg  pulse %d bpm\n", r.Systolic, r.Diastolic, r.Pulse)
	}
}

func init() {
	addVendorFlags(bpmCmd)

	bpmCmd.AddCommand(bpmStartCmd)
	bpmCmd.AddCommand(bpmFixedCmd("mode", "Query the monitor's measurement mode", "Fetching mode",
		func(c *bpmonitor.Client, ctx context.Context) error { return c.FetchMode(ctx, txOptions(vendorTx)...) }))
	bpmCmd.AddCommand(bpmFixedCmd("history", "Request the stored measurement history", "Fetching history",
		func(c *bpmonitor.Client, ctx context.Context) error { return c.FetchHistory(ctx, txOptions(vendorTx)...) }))
	bpmCmd.AddCommand(bpmFixedCmd("voice", "Toggle the voice announcement", "Toggling voice",
		func(c *bpmonitor.Client, ctx context.Context) error { return c.VoiceToggle(ctx, txOptions(vendorTx)...) }))
	bpmCmd.AddCommand(bpmFixedCmd("set-time", "Set the monitor clock to the current local time", "Setting time",
		func(c *bpmonitor.Client, ctx context.Context) error {
			return c.SetDeviceTime(ctx, time.Now(), txOptions(vendorTx)...)
		}))
}
