package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/api/apitest"
	. "github.com/toolbar-labs/magic-tracker/lib/testing"
	"github.com/toolbar-labs/magic-tracker/lifecycle"
)

const (
	accessToken  = "access-token"
	refreshToken = "refresh-token"

	inProgressStatus = `{"total":4,"completed":2,"errors":0,"loading":2,"isCompleted":false,"hasErrors":false,"isInProgress":true}`
	completedStatus  = `{"total":4,"completed":4,"errors":0,"loading":0,"isCompleted":true,"hasErrors":false,"isInProgress":false}`
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type MagicTrackerSuite struct {
	Suite
	fake *apitest.FakeServer
	conf Config
}

func TestMagicTracker(t *testing.T) { suite.Run(t, &MagicTrackerSuite{}) }

func (s *MagicTrackerSuite) SetupTest() {
	t := s.T()
	s.fake = apitest.NewFakeServer()
	t.Cleanup(s.fake.Close)
	s.fake.AllowToken(accessToken)
	s.fake.SetProfile(api.Profile{
		User:  api.User{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		Usage: api.Usage{Current: 1, Limit: 5, Remaining: 4},
	})

	s.conf = Config{
		API:      APIConfig{BaseURL: s.fake.URL()},
		Storage:  StorageConfig{Dir: s.NewTmpDir("magic-tracker")},
		Tracking: TrackingConfig{PollInterval: "20ms"},
		DiagAddr: "127.0.0.1:0",
	}
	require.NoError(t, s.conf.CheckAndSetDefaults())
}

func (s *MagicTrackerSuite) newApp() (*App, *syncBuffer) {
	t := s.T()
	t.Helper()
	app, err := NewApp(s.conf)
	require.NoError(t, err)
	out := &syncBuffer{}
	app.out = out
	t.Cleanup(app.Close)
	return app, out
}

func (s *MagicTrackerSuite) login(app *App) {
	t := s.T()
	t.Helper()
	require.NoError(t, app.Login(s.Ctx(), accessToken, refreshToken, time.Hour))
}

func (s *MagicTrackerSuite) TestLoginStatusLogout() {
	t := s.T()
	app, out := s.newApp()

	app.PrintStatus(s.Ctx())
	require.Contains(t, out.String(), "Not signed in.")

	s.login(app)
	require.Contains(t, out.String(), "Signed in as Ada <ada@example.com>.")

	app.PrintStatus(s.Ctx())
	require.Contains(t, out.String(), "Usage: 1 of 5 generations, 4 left.")

	app.Logout(s.Ctx())
	require.Nil(t, app.creds.Load(s.Ctx()))
}

func (s *MagicTrackerSuite) TestLoginRejectedToken() {
	t := s.T()
	app, _ := s.newApp()
	err := app.Login(s.Ctx(), "bogus", refreshToken, time.Hour)
	require.Error(t, err)
	require.Equal(t, api.CodeUnauthenticated, api.ErrorCode(err))
}

func (s *MagicTrackerSuite) TestRefreshCredentials() {
	t := s.T()
	app, out := s.newApp()

	require.Error(t, app.RefreshCredentials(s.Ctx()), "not signed in")

	s.login(app)
	s.fake.GrantRefresh(refreshToken, "access-token-2", "refresh-token-2", time.Hour)
	require.NoError(t, app.RefreshCredentials(s.Ctx()))
	require.Contains(t, out.String(), "Credentials refreshed")
	require.Equal(t, "access-token-2", app.creds.Load(s.Ctx()).AccessToken)

	require.Error(t, app.RefreshCredentials(s.Ctx()), "refresh tokens are single use")
	require.Nil(t, app.creds.Load(s.Ctx()))
}

func (s *MagicTrackerSuite) TestPrintJobs() {
	t := s.T()
	app, out := s.newApp()
	s.login(app)

	require.NoError(t, app.PrintJobs(s.Ctx(), false))
	require.Contains(t, out.String(), "No jobs yet.")

	s.fake.AddJob(api.Job{ID: "job-42", Name: "Landing page", CreatedAt: time.Now(), Status: api.JobCompleted})
	require.NoError(t, app.PrintJobs(s.Ctx(), true))
	require.Contains(t, out.String(), "job-42")
	require.Contains(t, out.String(), "Landing page")
}

func (s *MagicTrackerSuite) TestCreate() {
	t := s.T()
	app, out := s.newApp()
	s.login(app)

	created := make(chan error, 1)
	go func() {
		created <- app.Create(s.Ctx(), "A landing page for a bakery")
	}()

	require.Eventually(t, func() bool {
		return app.controller.State().Phase == lifecycle.PhaseTracking
	}, 5*time.Second, 10*time.Millisecond)
	jobID := app.controller.State().Job.ID

	s.fake.SetStatus(jobID, inProgressStatus)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Generating... 50%")
	}, 5*time.Second, 10*time.Millisecond)

	s.fake.SetStatus(jobID, completedStatus)
	select {
	case err := <-created:
		require.NoError(t, err)
	case <-s.Ctx().Done():
		t.Fatal(s.Ctx().Err())
	}
	require.Contains(t, out.String(), "Your Magic project is ready!")

	jobs, ok := app.jobs.Peek(s.Ctx())
	require.True(t, ok)
	require.Equal(t, api.JobCompleted, jobs.Value[0].Status)
}

func (s *MagicTrackerSuite) TestCreateUsageLimit() {
	t := s.T()
	app, _ := s.newApp()
	s.login(app)
	s.fake.FailCreate(http.StatusForbidden, `{"code":"USAGE_LIMIT_EXCEEDED","error":"Out of generations"}`)

	require.Error(t, app.Create(s.Ctx(), "Another page"))
	require.Equal(t, lifecycle.PhaseIdle, app.controller.State().Phase)
}

func (s *MagicTrackerSuite) TestResumeOnStart() {
	t := s.T()

	seeder, _ := s.newApp()
	s.login(seeder)
	s.fake.AddJob(api.Job{ID: "job-7", Name: "Portfolio", CreatedAt: time.Now().Add(-time.Minute), Status: api.JobGenerating})
	s.fake.SetStatus("job-7", inProgressStatus)
	require.NoError(t, seeder.PrintJobs(s.Ctx(), true))
	seeder.Close()

	app, _ := s.newApp()
	s.StartApp(app)

	state := app.controller.State()
	require.Equal(t, lifecycle.PhaseTracking, state.Phase)
	require.Equal(t, "job-7", state.Job.ID)

	require.Eventually(t, func() bool {
		return app.controller.State().Progress == 50
	}, 5*time.Second, 10*time.Millisecond)

	health := s.getHealth(app)
	require.Equal(t, lifecycle.PhaseTracking, health.Phase)
	require.Equal(t, "job-7", health.JobID)
	require.Equal(t, 50, health.Progress)

	s.fake.SetStatus("job-7", completedStatus)
	require.Eventually(t, func() bool {
		return app.controller.State().Phase == lifecycle.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)

	metrics := s.get(app, "/metrics")
	require.Contains(t, metrics, `magic_tracker_lifecycle_transitions_total{phase="completed"} 1`)
	require.Contains(t, metrics, `magic_tracker_tracker_polls_total{result="success"}`)
}

func (s *MagicTrackerSuite) getHealth(app *App) Health {
	t := s.T()
	t.Helper()
	var health Health
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s.get(app, "/healthz"), &health))
	return health
}

func (s *MagicTrackerSuite) get(app *App, path string) string {
	t := s.T()
	t.Helper()
	ctx, cancel := context.WithTimeout(s.Ctx(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+app.diag.Addr()+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
