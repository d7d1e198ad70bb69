package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/bledb"
	"github.com/srg/blemux/internal/profile"
	"github.com/srg/blemux/internal/transport"
)

// exploreCmd represents the explore command
var exploreCmd = &cobra.Command{
	Use:   "explore <device-address>",
	Short: "Explore GATT services and characteristics of a device",
	Long: fmt.Sprintf(`Connects to a BLE device, discovers its full GATT database and prints
the services and characteristics with their well-known names.

Examples:
  blemux explore %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

var exploreVerbose bool

func init() {
	exploreCmd.Flags().BoolVar(&exploreVerbose, "verbose", false, "Enable debug logging")
}

func runExplore(cmd *cobra.Command, args []string) error {
	address := args[0]

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

	progress := NewProgressPrinter(fmt.Sprintf("Exploring %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}

	progress.SetPhase("Discovering services")
	p, err := sess.Manager.DiscoverServices(ctx, address)
	if err != nil {
		return err
	}
	progress.Stop()

	return displayPeripheral(p)
}

func displayPeripheral(p *transport.Peripheral) error {
	heading := color.New(color.Bold)
	dim := color.New(color.Faint)

	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	heading.Printf("%s  %s\n", name, p.DeviceID)
	if p.MTU > 0 {
		dim.Printf("MTU %d\n", p.MTU)
	}
	if f, ok := identifyPeripheral(p); ok {
		dim.Printf("Recognized family: %s (%s)\n", f.Title, f.Name)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, svc := range p.Services {
		fmt.Fprintf(w, "service %s\t%s\n", bledb.DisplayUUID(svc.UUID), bledb.LookupService(svc.UUID))
		for _, ch := range svc.Characteristics {
			marker := " "
			if ch.IsNotifying {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s char %s\t%s\n", marker, bledb.DisplayUUID(ch.UUID), bledb.LookupCharacteristic(ch.UUID))
		}
	}
	return w.Flush()
}

// identifyPeripheral matches the discovered services against the
// supported vendor families.
func identifyPeripheral(p *transport.Peripheral) (profile.Family, bool) {
	uuids := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		uuids = append(uuids, svc.UUID)
	}
	return profile.Identify(uuids)
}
