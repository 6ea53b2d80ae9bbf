package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/taskgraph/internal/cmd"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		exitcode.Exit(exitcode.Success)
	}

	// Check if error was due to context cancellation (e.g., Ctrl+C)
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
		exitcode.Exit(exitcode.Interrupted)
	}

	var outcome *exitcode.OutcomeError
	if !errors.As(err, &outcome) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	exitcode.ExitWithError(err)
}
