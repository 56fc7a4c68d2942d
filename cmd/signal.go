package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalContext is canceled on the first SIGINT or SIGTERM. A running crawl
// treats that as a stop request and still writes what it captured.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
