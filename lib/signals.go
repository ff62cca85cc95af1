package lib

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// Terminable is something that can be shut down on a signal.
type Terminable interface {
	// Shutdown attempts to gracefully terminate.
	Shutdown(context.Context) error
	// Close does a fast (force) termination.
	Close()
}

// ServeSignals shuts the app down on SIGTERM or SIGINT. A second SIGINT
// forces the termination. It returns when ctx is done or the app was told to
// stop.
func ServeSignals(ctx context.Context, app Terminable, shutdownTimeout time.Duration) {
	log := logger.Get(ctx)
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC,
		syscall.SIGTERM, // graceful shutdown
		syscall.SIGINT,  // graceful-then-fast shutdown
	)
	defer signal.Stop(sigC)

	gracefulShutdown := func() {
		tctx, tcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer tcancel()
		log.Info("Attempting graceful shutdown...")
		if err := app.Shutdown(tctx); err != nil {
			log.WithError(err).Info("Graceful shutdown failed. Trying fast shutdown...")
			app.Close()
		}
	}

	var alreadyInterrupted bool
	for {
		var sig os.Signal
		select {
		case sig = <-sigC:
		case <-ctx.Done():
			return
		}
		switch sig {
		case syscall.SIGTERM:
			gracefulShutdown()
			return
		case syscall.SIGINT:
			if alreadyInterrupted {
				app.Close()
				return
			}
			go gracefulShutdown()
			alreadyInterrupted = true
		}
	}
}
