package api

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"

	"github.com/toolbar-labs/magic-tracker/auth/state"
)

// Authorizer exchanges refresh tokens against the API.
type Authorizer struct {
	client *resty.Client
	clock  clockwork.Clock
}

// NewAuthorizer returns a new Authorizer.
func NewAuthorizer(baseURL string, timeout time.Duration, clock clockwork.Clock) *Authorizer {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authorizer{
		client: makeClient(baseURL, timeout),
		clock:  clock,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh implements oauth.Refresher
func (a *Authorizer) Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post("/auth/refresh")
	if err != nil {
		if ctx.Err() != nil {
			return nil, trace.Wrap(ctx.Err())
		}
		return nil, trace.Wrap(networkError(err))
	}
	if resp.IsError() {
		return nil, trace.Wrap(responseError(resp))
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, malformed(trace.BadParameter("refresh response is not JSON"))
	}
	result := gjson.ParseBytes(body)
	creds := &state.Credentials{
		AccessToken:  result.Get("token").String(),
		RefreshToken: result.Get("refreshToken").String(),
	}
	if creds.AccessToken == "" {
		return nil, malformed(trace.BadParameter("refresh response has no token"))
	}
	if creds.RefreshToken == "" {
		// The server may keep the refresh token unchanged.
		creds.RefreshToken = refreshToken
	}

	switch expiresAt := result.Get("expiresAt"); {
	case expiresAt.Type == gjson.String:
		if creds.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt.String()); err != nil {
			return nil, malformed(err)
		}
	case expiresAt.Type == gjson.Number:
		creds.ExpiresAt = time.UnixMilli(expiresAt.Int()).UTC()
	case result.Get("expiresIn").Type == gjson.Number:
		creds.ExpiresAt = a.clock.Now().UTC().Add(time.Duration(result.Get("expiresIn").Int()) * time.Second)
	default:
		return nil, malformed(trace.BadParameter("refresh response has no expiry"))
	}
	return creds, nil
}
