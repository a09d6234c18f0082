package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/operator-cli/cmd"
)

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// A context that ends on SIGINT or SIGTERM drives graceful shutdown
	// everywhere: server drain, run cancellation, desktop teardown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		// An interrupt mid-run is a clean stop, not a failure.
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return // Reached only when osExit is mocked.
		}
		osExit(1)
	}
}
