package lib

import (
	"os"

	"github.com/gravitational/trace"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// Bail logs the error and exits with a nonzero exit code. An interrupted
// command exits with 130 like a shell would.
func Bail(err error) {
	log := logger.Standard()
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		for _, err := range agg.Errors() {
			log.WithError(err).Error("Terminating...")
		}
	} else {
		log.WithError(err).Error("Terminating...")
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsCanceled(err):
		return 130
	default:
		return 1
	}
}
