// Package session answers "who is signed in" and handles signing in and out.
package session

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/auth"
	"github.com/toolbar-labs/magic-tracker/auth/state"
	"github.com/toolbar-labs/magic-tracker/cache"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// ProfileTTL is how long a fetched profile is reused.
const ProfileTTL = 5 * time.Minute

// ProfileFetcher fetches the signed-in user's profile.
type ProfileFetcher interface {
	Profile(ctx context.Context) (*api.Profile, error)
}

// JobsClearer drops the cached job list.
type JobsClearer interface {
	Clear(ctx context.Context)
}

// Config configures a Service.
type Config struct {
	Credentials *auth.CredentialStore
	// Profiles must be a single-tier cache keyed by auth.ProfileCacheKey.
	Profiles *cache.TieredCache[api.Profile]
	Remote   ProfileFetcher
	// Jobs is cleared on sign out. Optional.
	Jobs JobsClearer
	Log  logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Credentials == nil {
		return trace.BadParameter("missing credential store")
	}
	if c.Profiles == nil {
		return trace.BadParameter("missing profile cache")
	}
	if c.Remote == nil {
		return trace.BadParameter("missing remote profile source")
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Status describes the current session.
type Status struct {
	SignedIn  bool
	Profile   *api.Profile
	ExpiresAt time.Time
}

// Service is the session facade.
type Service struct {
	conf Config
}

// New creates a Service.
func New(conf Config) (*Service, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{conf: conf}, nil
}

// Status returns the session status. The profile comes from the cache when
// possible. If it can't be fetched the session is considered broken and the
// credentials are cleared.
func (s *Service) Status(ctx context.Context) Status {
	creds := s.conf.Credentials.Load(ctx)
	if creds == nil {
		return Status{}
	}

	if cached, ok := s.conf.Profiles.Read(ctx, auth.ProfileCacheKey); ok {
		profile := cached.Value
		return Status{SignedIn: true, Profile: &profile, ExpiresAt: creds.ExpiresAt}
	}

	profile, err := s.conf.Remote.Profile(ctx)
	if err != nil {
		logger.Get(ctx).WithError(err).WithField("code", api.ErrorCode(err)).Warn("Failed to fetch the profile, signing out")
		s.conf.Credentials.Clear(ctx)
		return Status{}
	}
	s.conf.Profiles.Write(ctx, auth.ProfileCacheKey, *profile)

	// The fetch may have refreshed the credentials.
	if fresh := s.conf.Credentials.Load(ctx); fresh != nil {
		creds = fresh
	}
	return Status{SignedIn: true, Profile: profile, ExpiresAt: creds.ExpiresAt}
}

// SignIn stores new credentials and fetches the profile that goes with them.
func (s *Service) SignIn(ctx context.Context, creds *state.Credentials) (*api.Profile, error) {
	if creds == nil || creds.AccessToken == "" || creds.RefreshToken == "" {
		return nil, trace.BadParameter("access token and refresh token are required")
	}
	if err := s.conf.Credentials.Save(ctx, creds); err != nil {
		return nil, trace.Wrap(err)
	}
	s.conf.Profiles.ClearAll(ctx, auth.ProfileCacheKey)

	profile, err := s.conf.Remote.Profile(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.conf.Profiles.Write(ctx, auth.ProfileCacheKey, *profile)
	logger.Get(ctx).WithField("user", profile.User.Email).Info("Signed in")
	return profile, nil
}

// SignOut removes the credentials, the profile and the cached job list.
func (s *Service) SignOut(ctx context.Context) {
	s.conf.Credentials.Clear(ctx)
	if s.conf.Jobs != nil {
		s.conf.Jobs.Clear(ctx)
	}
	logger.Get(ctx).Info("Signed out")
}
