// Command kiosk runs the AR stand service and its tooling.
//
// Usage:
//
//	kiosk serve                       # accept AR clients, serve the dashboard API
//	kiosk check stands.toml           # validate a stand configuration
//	kiosk replay walk.toml            # play a scenario against in-process stands
//	kiosk push walk.toml --url ...    # play a scenario as a simulated AR client
//	kiosk stats                       # per-stand activation counts
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
