package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

// run executes the CLI under a signal-cancelled context. SIGINT and
// SIGTERM cancel it, which the serve command uses to drain workers so
// in-flight jobs requeue cleanly. Returning the exit code (instead of
// calling os.Exit here) lets the deferred cancel release the signal
// handler first.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
