package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/tracker"
)

// trackerCmd groups the fitness tracker band commands.
var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Fitness tracker band commands",
	Long: fmt.Sprintf(`Commands for the supported fitness tracker band family.

Examples:
  blemux tracker set-time %s
  blemux tracker vibrate %s --seconds 3
  blemux tracker activity %s --date 2024-03-05 --detailed

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
}

var (
	trackerSeconds  int
	trackerUnit     string
	trackerDate     string
	trackerDetailed bool
)

var trackerSetTimeCmd = &cobra.Command{
	Use:   "set-time <device-address>",
	Short: "Set the band clock to the current local time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorOp(cmd, args[0], "Setting tracker time", func(ctx context.Context, sess *session) error {
			return tracker.NewClient(sess.Manager, args[0]).SetDeviceTime(ctx, time.Now(), txOptions(vendorTx)...)
		})
	},
}

var trackerVibrateCmd = &cobra.Command{
	Use:   "vibrate <device-address>",
	Short: "Buzz the band",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorOp(cmd, args[0], "Activating vibration", func(ctx context.Context, sess *session) error {
			return tracker.NewClient(sess.Manager, args[0]).ActivateVibration(ctx, trackerSeconds, txOptions(vendorTx)...)
		})
	},
}

var trackerSetUnitCmd = &cobra.Command{
	Use:   "set-unit <device-address>",
	Short: "Set the distance display unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := parseTrackerUnit(trackerUnit)
		if err != nil {
			return err
		}
		return vendorOp(cmd, args[0], "Setting distance unit", func(ctx context.Context, sess *session) error {
			return tracker.NewClient(sess.Manager, args[0]).SetDistanceUnit(ctx, unit, txOptions(vendorTx)...)
		})
	},
}

var trackerActivityCmd = &cobra.Command{
	Use:   "activity <device-address>",
	Short: "Request day activity totals and stream the answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := time.Now()
		if trackerDate != "" {
			var err error
			date, err = time.ParseInLocation("2006-01-02", trackerDate, time.Local)
			if err != nil {
				return fmt.Errorf("invalid date %q: use YYYY-MM-DD", trackerDate)
			}
		}
		kick := func(ctx context.Context, sess *session) error {
			return tracker.NewClient(sess.Manager, args[0]).RequestDayActivity(ctx, date, trackerDetailed)
		}
		return vendorStream(cmd, args[0], "tracker", "Requesting day activity", kick, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			return tracker.NewClient(sess.Manager, args[0]).Stream(func(err error, ev *tracker.Event) {
				printTrackerEvent(sess, failed, err, ev)
			}, txOptions(vendorTx)...)
		})
	},
}

var trackerEventsCmd = &cobra.Command{
	Use:   "events <device-address>",
	Short: "Stream decoded band events until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorStream(cmd, args[0], "tracker", "Streaming tracker events", nil, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			return tracker.NewClient(sess.Manager, args[0]).Stream(func(err error, ev *tracker.Event) {
				printTrackerEvent(sess, failed, err, ev)
			}, txOptions(vendorTx)...)
		})
	},
}

func printTrackerEvent(sess *session, failed chan<- error, err error, ev *tracker.Event) {
	if err != nil {
		if isTerminalStreamError(err) {
			reportStreamError(failed, err)
			return
		}
		sess.Logger.WithError(err).Warn("dropping undecodable tracker frame")
		return
	}
	switch ev.Kind {
	case tracker.EventAck:
		status := "rejected"
		if ev.Ack.OK {
			status = "accepted"
		}
		fmt.Printf("ack: command 0x%02X %s\n", ev.Ack.Opcode, status)
	case tracker.EventDayActivity:
		d := ev.Day
		fmt.Printf("%04d-%02d-%02d  %d steps  %d m  %d kcal\n",
			d.Year, int(d.Month), d.Day, d.Steps, d.DistanceM, d.Calories)
	}
}

func parseTrackerUnit(s string) (tracker.Unit, error) {
	switch strings.ToLower(s) {
	case "metric", "km":
		return tracker.UnitMetric, nil
	case "us", "imperial", "mi":
		return tracker.UnitUS, nil
	default:
		return 0, fmt.Errorf("invalid unit %q: use metric or us", s)
	}
}

func init() {
	addVendorFlags(trackerCmd)

	trackerVibrateCmd.Flags().IntVar(&trackerSeconds, "seconds", 2, "Vibration duration in seconds (clamped to 0-10)")
	trackerSetUnitCmd.Flags().StringVar(&trackerUnit, "unit", "metric", "Distance unit: metric or us")
	trackerActivityCmd.Flags().StringVar(&trackerDate, "date", "", "Day to request (YYYY-MM-DD, default today)")
	trackerActivityCmd.Flags().BoolVar(&trackerDetailed, "detailed", false, "Request the detailed log instead of the summary")

	trackerCmd.AddCommand(trackerSetTimeCmd)
	trackerCmd.AddCommand(trackerVibrateCmd)
	trackerCmd.AddCommand(trackerSetUnitCmd)
	trackerCmd.AddCommand(trackerActivityCmd)
	trackerCmd.AddCommand(trackerEventsCmd)
}
