package oauth

import (
	"context"

	"github.com/toolbar-labs/magic-tracker/auth/state"
)

// Refresher exchanges a refresh token for a new set of credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (*state.Credentials, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error) {
	return f(ctx, refreshToken)
}
