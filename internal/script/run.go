package script

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemux/internal/manager"
)

// RunOptions configures one script execution against a live session
// manager.
type RunOptions struct {
	// Source is the script text; Name labels it in error messages.
	Source string
	Name   string

	// Args are exposed to the script through the global arg table.
	Args map[string]string

	// Stdout and Stderr receive the script's print output live. Nil
	// writers discard their stream.
	Stdout, Stderr io.Writer

	// Wait keeps delivering subscription callbacks after the script
	// body returns, for scripts that set up monitors and rely on the
	// host to keep them alive. Zero returns as soon as the body does.
	Wait time.Duration
}

// Run executes one script with the blemux API bound to m. Output is
// drained to the writers while the script runs; the returned error is
// a *LuaError for script failures.
func Run(ctx context.Context, m *manager.Manager, logger *logrus.Logger, opts RunOptions) error {
	if opts.Source == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: opts.Name}
	}

	api := NewAPI(m, logger)
	defer api.Close()

	drainer := NewDrainer(ctx, api.OutputChannel(), logger, opts.Stdout, opts.Stderr)
	defer func() {
		drainer.Cancel()
		drainer.Wait()
	}()

	logger.WithFields(logrus.Fields{
		"script": opts.Name,
		"size":   len(opts.Source),
	}).Debug("Starting script execution")

	source := buildArgPrelude(opts.Args) + opts.Source
	if opts.Name != "" {
		if err := api.Engine().LoadScript(source, opts.Name); err != nil {
			return err
		}
		source = ""
	}
	if err := api.ExecuteScript(ctx, source); err != nil {
		return err
	}

	// Monitors registered by the script outlive its body; pump their
	// callbacks until the wait window or the context closes.
	if opts.Wait > 0 && api.ActiveMonitors() > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		defer cancel()
		api.Engine().Pump(waitCtx)
	}

	logger.WithField("script", opts.Name).Debug("Script execution completed")
	return nil
}

// buildArgPrelude renders the arg table initialization prepended to the
// user script.
func buildArgPrelude(args map[string]string) string {
	var b strings.Builder
	b.WriteString("arg = {}\n")
	for key, value := range args {
		fmt.Fprintf(&b, "arg[%q] = %q\n", key, value)
	}
	b.WriteString("-- user script\n")
	return b.String()
}
