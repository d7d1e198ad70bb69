package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/scale"
	"github.com/srg/blemux/internal/transport"
)

// scaleCmd groups the body-composition scale commands.
var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Body composition scale commands",
	Long: fmt.Sprintf(`Commands for the supported body composition scale family.

Examples:
  blemux scale set-profile %s --user 0A1B2C3D --age 35 --height 180 --gender male
  blemux scale select-profile %s --user 0A1B2C3D --unit metric
  blemux scale measure %s

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
}

var (
	scaleUserID string
	scaleAge    int
	scaleHeight int
	scaleGender string
	scaleUnit   string
)

var scaleSetProfileCmd = &cobra.Command{
	Use:   "set-profile <device-address>",
	Short: "Upload a user profile to the scale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gender, err := parseScaleGender(scaleGender)
		if err != nil {
			return err
		}
		return vendorOp(cmd, args[0], "Setting scale profile", func(ctx context.Context, sess *session) error {
			c := scale.NewClient(sess.Manager, args[0])
			return c.SetUserProfile(ctx, scaleUserID, scaleAge, scaleHeight, gender, txOptions(vendorTx)...)
		})
	},
}

var scaleSelectProfileCmd = &cobra.Command{
	Use:   "select-profile <device-address>",
	Short: "Activate a stored profile for the next measurement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := parseScaleUnit(scaleUnit)
		if err != nil {
			return err
		}
		return vendorOp(cmd, args[0], "Selecting scale profile", func(ctx context.Context, sess *session) error {
			c := scale.NewClient(sess.Manager, args[0])
			return c.SelectUserProfile(ctx, scaleUserID, unit, txOptions(vendorTx)...)
		})
	},
}

var scaleResetCmd = &cobra.Command{
	Use:   "reset <device-address>",
	Short: "Factory-reset the scale head (clears all stored profiles)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorOp(cmd, args[0], "Resetting scale", func(ctx context.Context, sess *session) error {
			return scale.NewClient(sess.Manager, args[0]).Reset(ctx, txOptions(vendorTx)...)
		})
	},
}

var scaleMeasureCmd = &cobra.Command{
	Use:   "measure <device-address>",
	Short: "Stream weight measurements until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vendorStream(cmd, args[0], "scale", "Streaming scale measurements", nil, func(sess *session, failed chan<- error) (*manager.Subscription, error) {
			return scale.NewClient(sess.Manager, args[0]).Stream(func(err error, m *scale.Measurement) {
				if err != nil {
					if isTerminalStreamError(err) {
						reportStreamError(failed, err)
						return
					}
					sess.Logger.WithError(err).Warn("dropping undecodable scale frame")
					return
				}
				state := "interim"
				if m.Stable {
					state = "stable"
				}
				if m.ImpedanceOhm > 0 {
					fmt.Printf("%.1f kg  impedance %d ohm  (%s)\n", m.WeightKG, m.ImpedanceOhm, state)
					return
				}
				fmt.Printf("%.1f kg  (%s)\n", m.WeightKG, state)
			}, txOptions(vendorTx)...)
		})
	},
}

func parseScaleGender(s string) (scale.Gender, error) {
	switch strings.ToLower(s) {
	case "female", "f":
		return scale.GenderFemale, nil
	case "male", "m":
		return scale.GenderMale, nil
	default:
		return 0, fmt.Errorf("invalid gender %q: use male or female", s)
	}
}

func parseScaleUnit(s string) (scale.Unit, error) {
	switch strings.ToLower(s) {
	case "metric", "kg":
		return scale.UnitMetric, nil
	case "imperial", "lb":
		return scale.UnitImperial, nil
	default:
		return 0, fmt.Errorf("invalid unit %q: use metric or imperial", s)
	}
}

// isTerminalStreamError reports whether a listener error ends the
// stream, as opposed to one undecodable frame.
func isTerminalStreamError(err error) bool {
	_, ok := err.(*transport.Error)
	return ok
}

func init() {
	addVendorFlags(scaleCmd)

	scaleSetProfileCmd.Flags().StringVar(&scaleUserID, "user", "", "User id, 8 hex characters (required)")
	scaleSetProfileCmd.Flags().IntVar(&scaleAge, "age", 30, "Age in years (clamped to 10-98)")
	scaleSetProfileCmd.Flags().IntVar(&scaleHeight, "height", 170, "Height in cm (clamped to 100-218)")
	scaleSetProfileCmd.Flags().StringVar(&scaleGender, "gender", "female", "Gender: male or female")
	_ = scaleSetProfileCmd.MarkFlagRequired("user")

	scaleSelectProfileCmd.Flags().StringVar(&scaleUserID, "user", "", "User id, 8 hex characters (required)")
	scaleSelectProfileCmd.Flags().StringVar(&scaleUnit, "unit", "metric", "Display unit system: metric or imperial")
	_ = scaleSelectProfileCmd.MarkFlagRequired("user")

	scaleCmd.AddCommand(scaleSetProfileCmd)
	scaleCmd.AddCommand(scaleSelectProfileCmd)
	scaleCmd.AddCommand(scaleResetCmd)
	scaleCmd.AddCommand(scaleMeasureCmd)
}
