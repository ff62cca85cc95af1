package lib

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
)

// IsCanceled reports whether err comes from a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(trace.Unwrap(err), context.Canceled)
}

// IsDeadline reports whether err comes from an expired context.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(trace.Unwrap(err), context.DeadlineExceeded)
}
