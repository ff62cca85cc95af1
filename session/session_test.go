package session

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/auth"
	"github.com/toolbar-labs/magic-tracker/auth/oauth"
	"github.com/toolbar-labs/magic-tracker/auth/state"
	"github.com/toolbar-labs/magic-tracker/cache"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/storage"
)

type mockProfiles struct {
	calls   int
	profile *api.Profile
	err     error
}

func (m *mockProfiles) Profile(context.Context) (*api.Profile, error) {
	m.calls++
	return m.profile, m.err
}

type mockJobs struct {
	cleared bool
}

func (m *mockJobs) Clear(context.Context) {
	m.cleared = true
}

type fixture struct {
	clock   clockwork.FakeClock
	creds   *auth.CredentialStore
	remote  *mockProfiles
	jobs    *mockJobs
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  clockwork.NewFakeClock(),
		remote: &mockProfiles{profile: &api.Profile{User: api.User{ID: "u1", Email: "ada@example.com"}}},
		jobs:   &mockJobs{},
	}
	store := storage.NewMemoryStore()
	profiles, err := cache.New[api.Profile](cache.Config{
		Storage:    store,
		PrimaryTTL: ProfileTTL,
		Clock:      f.clock,
		Log:        logger.Discard(),
	})
	require.NoError(t, err)
	st, err := state.NewKVState(store, auth.CredentialKey)
	require.NoError(t, err)
	f.creds, err = auth.NewCredentialStore(auth.CredentialStoreConfig{
		State: st,
		Refresher: oauth.RefresherFunc(func(context.Context, string) (*state.Credentials, error) {
			return nil, trace.AccessDenied("no refresh in this test")
		}),
		ProfileCache: profiles,
		Clock:        f.clock,
		Log:          logger.Discard(),
	})
	require.NoError(t, err)
	f.service, err = New(Config{
		Credentials: f.creds,
		Profiles:    profiles,
		Remote:      f.remote,
		Jobs:        f.jobs,
		Log:         logger.Discard(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) credentials() *state.Credentials {
	return &state.Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: f.clock.Now().Add(time.Hour)}
}

func TestStatusSignedOut(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, Status{}, f.service.Status(context.Background()))
	require.Zero(t, f.remote.calls)
}

func TestStatusUsesProfileCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service.SignIn(ctx, f.credentials())
	require.NoError(t, err)
	require.Equal(t, 1, f.remote.calls)

	status := f.service.Status(ctx)
	require.True(t, status.SignedIn)
	require.Equal(t, "ada@example.com", status.Profile.User.Email)
	require.Equal(t, 1, f.remote.calls)

	f.clock.Advance(ProfileTTL + time.Second)
	status = f.service.Status(ctx)
	require.True(t, status.SignedIn)
	require.Equal(t, 2, f.remote.calls)
}

func TestStatusFailureSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.creds.Save(ctx, f.credentials()))
	f.remote.err = &api.APIError{Code: api.CodeUnauthenticated, Message: "invalid token"}

	require.False(t, f.service.Status(ctx).SignedIn)
	require.Nil(t, f.creds.Load(ctx))
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SignIn(ctx, &state.Credentials{AccessToken: "a"})
	require.True(t, trace.IsBadParameter(err))

	f.remote.err = &api.APIError{Code: api.CodeNetworkError, Message: "offline"}
	_, err = f.service.SignIn(ctx, f.credentials())
	require.Equal(t, api.CodeNetworkError, api.ErrorCode(err))
	require.NotNil(t, f.creds.Load(ctx), "credentials are kept when only the profile failed")
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service.SignIn(ctx, f.credentials())
	require.NoError(t, err)

	f.service.SignOut(ctx)
	require.Nil(t, f.creds.Load(ctx))
	require.True(t, f.jobs.cleared)
	require.False(t, f.service.Status(ctx).SignedIn)
}
