package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemux/internal/script"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [script-file]",
	Short: "Run a Lua automation script",
	Long: `Executes a Lua script against the BLE mediation layer.

The script sees a 'blemux' table with the generic operations (scan,
connect, read, write, monitor, ...) and one subtable per vendor family
(blemux.scale, blemux.tracker, blemux.bpm, blemux.glucose,
blemux.oximeter). Arguments passed with --arg appear in the global
'arg' table.

Examples:
  blemux run measure.lua --arg device=AA:BB:CC:DD:EE:FF
  blemux run --example scan
  blemux run --example oximeter --arg device=AA:BB:CC:DD:EE:FF --wait 30s
  blemux run --list-examples`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runExample      string
	runListExamples bool
	runArgs         []string
	runWait         time.Duration
)

func init() {
	runCmd.Flags().StringVar(&runExample, "example", "", "Run a bundled example script instead of a file")
	runCmd.Flags().BoolVar(&runListExamples, "list-examples", false, "List the bundled example scripts")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Script argument as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runWait, "wait", 0, "Keep delivering monitor callbacks this long after the script body returns")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runListExamples {
		for _, name := range script.ExampleNames() {
			fmt.Println(name)
		}
		return nil
	}

	var source, name string
	switch {
	case runExample != "" && len(args) > 0:
		return fmt.Errorf("pass either a script file or --example, not both")
	case runExample != "":
		var err error
		source, err = script.Example(runExample)
		if err != nil {
			return err
		}
		name = runExample
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		source = string(data)
		name = filepath.Base(args[0])
	default:
		return fmt.Errorf("script file required (or --example / --list-examples)")
	}

	scriptArgs, err := parseScriptArgs(runArgs)
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

	return script.Run(ctx, sess.Manager, logger, script.RunOptions{
		Source: source,
		Name:   name,
		Args:   scriptArgs,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Wait:   runWait,
	})
}

// parseScriptArgs turns repeated key=value flags into the script arg
// table.
func parseScriptArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: want key=value", p)
		}
		out[key] = value
	}
	return out, nil
}
