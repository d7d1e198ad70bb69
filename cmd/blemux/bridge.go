package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/profile"
	"github.com/srg/blemux/internal/ptyio"
	"github.com/srg/blemux/internal/transport"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Bridge a BLE characteristic stream to a PTY",
	Long: fmt.Sprintf(`Creates a bidirectional PTY (pseudoterminal) bridge to a BLE device, so
applications that expect a serial port can consume a BLE measurement
stream.

Notifications from the monitored characteristic appear on the virtual
serial device; bytes an application writes to the device are sent to
the command characteristic. Either side may be left unset for a
one-directional bridge: a --family selects both ends from the vendor
profile, or --service/--notify-char/--write-char name them explicitly.

Examples:
  blemux bridge %s --family oximeter
  blemux bridge %s --service ffe0 --notify-char ffe4 --write-char ffe9 --symlink /tmp/ble-probe

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeFamily      string
	bridgeServiceUUID string
	bridgeNotifyChar  string
	bridgeWriteChar   string
	bridgeSymlink     string
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeFamily, "family", "", "Vendor family whose endpoints to bridge (scale, tracker, bpm, glucose, oximeter)")
	bridgeCmd.Flags().StringVar(&bridgeServiceUUID, "service", "", "Service UUID to bridge with")
	bridgeCmd.Flags().StringVar(&bridgeNotifyChar, "notify-char", "", "Characteristic streamed onto the PTY")
	bridgeCmd.Flags().StringVar(&bridgeWriteChar, "write-char", "", "Characteristic PTY input is written to")
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/ble-device)")
}

// bridgeEndpoints resolves the service/characteristic pair from the
// --family shorthand or the explicit flags. Flags win over the family.
func bridgeEndpoints() (service, notifyChar, writeChar string, err error) {
	if bridgeFamily != "" {
		f, ok := profile.Lookup(bridgeFamily)
		if !ok {
			return "", "", "", fmt.Errorf("unknown device family %q", bridgeFamily)
		}
		service, notifyChar, writeChar = f.Endpoints.Service, f.Endpoints.Events, f.Endpoints.Command
	}
	if bridgeServiceUUID != "" {
		service = bridgeServiceUUID
	}
	if bridgeNotifyChar != "" {
		notifyChar = bridgeNotifyChar
	}
	if bridgeWriteChar != "" {
		writeChar = bridgeWriteChar
	}
	if service == "" {
		return "", "", "", fmt.Errorf("no service to bridge: use --family or --service")
	}
	if notifyChar == "" && writeChar == "" {
		return "", "", "", fmt.Errorf("nothing to bridge: the selected endpoints define neither a notify nor a write characteristic")
	}
	return service, notifyChar, writeChar, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	address := args[0]

	service, notifyChar, writeChar, err := bridgeEndpoints()
	if err != nil {
		return err
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

	progress := NewProgressPrinter(fmt.Sprintf("Starting bridge for %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if _, err := sess.connect(ctx, address); err != nil {
		return err
	}

	progress.SetPhase("Opening PTY")
	faults := make(chan error, 1)
	port, err := ptyio.Open(ptyio.Options{
		ReadBufferSize:  cfg.Bridge.StdinBufferSize,
		WriteBufferSize: cfg.Bridge.StdoutBufferSize,
		Logger:          logger,
		OnFault: func(ferr error) {
			reportStreamError(faults, ferr)
		},
	})
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	defer port.Close()

	symlink := bridgeSymlink
	if symlink == "" {
		symlink = cfg.Bridge.TTYSymlink
	}
	if symlink != "" {
		_ = os.Remove(symlink)
		if err := os.Symlink(port.Name(), symlink); err != nil {
			return fmt.Errorf("create symlink %s: %w", symlink, err)
		}
		defer os.Remove(symlink)
	}

	// Device -> PTY: notifications land on the tty.
	if notifyChar != "" {
		sub, err := sess.Manager.MonitorCharacteristic(address, service, notifyChar, func(serr *transport.Error, ch *transport.Characteristic) {
			if serr != nil {
				reportStreamError(faults, serr)
				return
			}
			value, derr := ch.Value()
			if derr != nil {
				logger.WithError(derr).Warn("dropping undecodable notification")
				return
			}
			if _, werr := port.Write(value); werr != nil {
				reportStreamError(faults, werr)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Remove()
	}

	// PTY -> device: application input goes out as characteristic
	// writes. Write failures only log; a flaky link should not kill the
	// inbound direction.
	if writeChar != "" {
		port.OnData(func(data []byte) {
			wctx, wcancel := commandContext(ctx, cfg, 0)
			defer wcancel()
			if _, werr := sess.Manager.Write(wctx, address, service, writeChar, data, false); werr != nil {
				logger.WithError(werr).Warn("tty input write failed")
			}
		})
	}

	progress.Stop()
	fmt.Printf("Bridge running on %s", port.Name())
	if symlink != "" {
		fmt.Printf(" (symlink %s)", symlink)
	}
	fmt.Println(". Press Ctrl+C to stop...")

	select {
	case <-ctx.Done():
		return nil
	case err := <-faults:
		return err
	}
}
