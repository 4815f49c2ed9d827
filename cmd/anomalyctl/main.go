// Command anomalyctl runs the analytics operations from the command line against the
// configured detection store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ryuu1kyou/anomaly-analytics/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "anomalyctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
