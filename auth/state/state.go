package state

import (
	"context"
	"time"
)

// Credentials represents the short-lived bearer credentials.
type Credentials struct {
	// AccessToken is the Bearer token used to access the API.
	AccessToken string `json:"token"`
	// RefreshToken is used to acquire a new access token.
	RefreshToken string `json:"refreshToken"`
	// ExpiresAt marks the end of validity period for the access token.
	ExpiresAt time.Time `json:"expiresAt"`
}

// State defines the interface for persisting the credentials.
type State interface {
	GetCredentials(context.Context) (*Credentials, error)
	PutCredentials(context.Context, *Credentials) error
	DeleteCredentials(context.Context) error
}
