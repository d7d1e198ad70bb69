package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/bledb"
	"github.com/srg/blemux/internal/profile"
	"github.com/srg/blemux/internal/transport"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Discovered devices are listed with name, address, RSSI, advertised
services and, where the advertisement matches one of the supported
vendor families, the family name.`,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanServices   []string
	scanDuplicates bool
	scanWatch      bool
	scanVerbose    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured default)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().BoolVar(&scanDuplicates, "duplicates", false, "Report repeat sightings of the same device")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and redraw results")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	serviceUUIDs, err := normalizeServiceFilter(scanServices)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.ScanTimeout.Std()
	if scanDuration > 0 {
		duration = scanDuration
	}
	if scanWatch && !cmd.Flags().Changed("duration") {
		duration = 0 // watch until interrupted
	}

	sess := newSession(cfg, logger)
	defer sess.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var progress *ProgressPrinter
	if !scanWatch {
		progress = NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", duration)
		progress.Start()
		defer progress.Stop()
	}

	seen := make(chan struct{}, 1)
	sub, err := sess.Manager.StartDeviceScan(serviceUUIDs, scanDuplicates, func(serr *transport.Error, adv *transport.Advertisement) {
		if serr != nil {
			logger.WithError(serr).Error("scan stream failed")
			cancel()
			return
		}
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Remove()

	var timeout <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timeout = t.C
	}

	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sub.Done():
			break loop
		case <-timeout:
			break loop
		case <-seen:
		case <-redraw.C:
			if scanWatch {
				clearScreen()
				if err := displayDevices(sess.Manager.DiscoveredDevices(), scanFormat); err != nil {
					return err
				}
			}
		}
	}

	if progress != nil {
		progress.Stop()
	}
	if scanWatch {
		clearScreen()
	}
	return displayDevices(sess.Manager.DiscoveredDevices(), scanFormat)
}

// normalizeServiceFilter validates the --services UUID list up front so
// a typo fails before the radio is touched.
func normalizeServiceFilter(uuids []string) ([]string, error) {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		n := bledb.NormalizeUUID(u)
		if !validUUID(n) {
			return nil, fmt.Errorf("invalid service UUID %q", u)
		}
		out = append(out, n)
	}
	return out, nil
}

// validUUID accepts the 16-, 32- and 128-bit hex forms NormalizeUUID
// produces.
func validUUID(n string) bool {
	switch len(n) {
	case 4, 8, 32:
	default:
		return false
	}
	for _, r := range n {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func displayDevices(devices []*transport.Advertisement, format string) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].LocalName != devices[j].LocalName {
			return devices[i].LocalName > devices[j].LocalName
		}
		return devices[i].DeviceID < devices[j].DeviceID
	})

	if format == "json" {
		return displayDevicesJSON(devices)
	}
	return displayDevicesTable(devices)
}

func displayDevicesTable(devices []*transport.Advertisement) error {
	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tFAMILY\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, adv := range devices {
		name := adv.LocalName
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		family := ""
		if f, ok := profile.Identify(adv.ServiceUUIDs); ok {
			family = f.Name
		}

		uuids := make([]string, 0, len(adv.ServiceUUIDs))
		for _, s := range adv.ServiceUUIDs {
			uuids = append(uuids, bledb.DisplayUUID(s))
		}
		services := strings.Join(uuids, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			name, adv.DeviceID, adv.RSSI, family, services)
	}

	return w.Flush()
}

func displayDevicesJSON(devices []*transport.Advertisement) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen() {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
}
