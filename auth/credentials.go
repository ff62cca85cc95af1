package auth

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/toolbar-labs/magic-tracker/auth/oauth"
	"github.com/toolbar-labs/magic-tracker/auth/state"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/metrics"
)

const (
	// CredentialKey is the storage key of the persisted credentials.
	CredentialKey = "auth.credential"
	// ProfileCacheKey is the cache key of the credential-scoped profile.
	ProfileCacheKey = "auth.profile"

	refreshFlightKey = "refresh"
)

// Clearer drops every tier of a cached key.
type Clearer interface {
	ClearAll(ctx context.Context, key string)
}

// CredentialStoreConfig configures a CredentialStore.
type CredentialStoreConfig struct {
	// State persists the credentials.
	State state.State
	// Refresher exchanges refresh tokens.
	Refresher oauth.Refresher
	// ProfileCache is cleared along with the credentials. Optional.
	ProfileCache Clearer
	// Clock decides whether credentials expired.
	Clock clockwork.Clock
	// Log is the logger.
	Log logrus.FieldLogger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *CredentialStoreConfig) CheckAndSetDefaults() error {
	if c.State == nil {
		return trace.BadParameter("missing credentials state")
	}
	if c.Refresher == nil {
		return trace.BadParameter("missing refresher")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// CredentialStore owns the bearer credentials: it persists them, tells
// whether they're still valid and refreshes them on demand. Concurrent
// refreshes are collapsed into a single request.
type CredentialStore struct {
	conf  CredentialStoreConfig
	group singleflight.Group
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(conf CredentialStoreConfig) (*CredentialStore, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &CredentialStore{conf: conf}, nil
}

// Save overwrites the persisted credentials.
func (s *CredentialStore) Save(ctx context.Context, creds *state.Credentials) error {
	return trace.Wrap(s.conf.State.PutCredentials(ctx, creds))
}

// Load returns the persisted credentials or nil if there are none. Malformed
// credentials are reported as absent.
func (s *CredentialStore) Load(ctx context.Context) *state.Credentials {
	creds, err := s.conf.State.GetCredentials(ctx)
	if err != nil {
		if !trace.IsNotFound(err) {
			s.conf.Log.WithError(err).Warn("Ignoring unreadable credentials")
		}
		return nil
	}
	return creds
}

// IsValid reports whether the access token is not expired yet.
func (s *CredentialStore) IsValid(creds *state.Credentials) bool {
	return creds != nil && creds.ExpiresAt.After(s.conf.Clock.Now())
}

// Clear removes the credentials and the profile cached for them. The job list
// is left alone on purpose so it survives signing in again.
func (s *CredentialStore) Clear(ctx context.Context) {
	if err := s.conf.State.DeleteCredentials(ctx); err != nil {
		s.conf.Log.WithError(err).Warn("Failed to remove credentials")
	}
	if s.conf.ProfileCache != nil {
		s.conf.ProfileCache.ClearAll(ctx, ProfileCacheKey)
	}
}

// RefreshIfNeeded returns a usable access token, refreshing expired
// credentials first. It returns false when there are no credentials or the
// refresh failed; in the latter case the credentials are cleared. Nothing is
// retried.
func (s *CredentialStore) RefreshIfNeeded(ctx context.Context) (string, bool) {
	creds := s.Load(ctx)
	if creds == nil {
		return "", false
	}
	if s.IsValid(creds) {
		return creds.AccessToken, true
	}

	creds, err := s.refresh(ctx, false)
	if err != nil {
		s.conf.Log.WithError(err).Warn("Credentials refresh failed")
		return "", false
	}
	return creds.AccessToken, true
}

// Refresh unconditionally refreshes the credentials and returns the error to
// the caller. The credentials are cleared on failure.
func (s *CredentialStore) Refresh(ctx context.Context) (*state.Credentials, error) {
	creds, err := s.refresh(ctx, true)
	return creds, trace.Wrap(err)
}

// refresh performs the refresh call shared by every concurrent caller. The
// call is detached from the first caller's cancellation so that the others
// don't inherit it.
func (s *CredentialStore) refresh(ctx context.Context, force bool) (*state.Credentials, error) {
	shared := context.WithoutCancel(ctx)
	result, err, sharedResult := s.group.Do(refreshFlightKey, func() (interface{}, error) {
		creds := s.Load(shared)
		if creds == nil {
			return nil, trace.NotFound("no credentials to refresh")
		}
		// Someone else (another caller that just finished, or another
		// process) may have refreshed already.
		if !force && s.IsValid(creds) {
			return creds, nil
		}

		fresh, err := s.conf.Refresher.Refresh(shared, creds.RefreshToken)
		if err != nil {
			s.conf.Metrics.Refresh("failure")
			s.Clear(shared)
			return nil, trace.Wrap(err)
		}
		if fresh == nil || fresh.AccessToken == "" {
			s.conf.Metrics.Refresh("failure")
			s.Clear(shared)
			return nil, trace.BadParameter("refresh returned empty credentials")
		}
		s.conf.Metrics.Refresh("success")

		if err := s.Save(shared, fresh); err != nil {
			s.conf.Log.WithError(err).Error("Error while storing the refreshed credentials")
		}
		s.conf.Log.WithField("expires_at", fresh.ExpiresAt).Debug("Successfully refreshed credentials")
		return fresh, nil
	})
	if sharedResult {
		s.conf.Metrics.Refresh("shared")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result.(*state.Credentials), nil
}
