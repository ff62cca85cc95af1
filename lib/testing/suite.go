// Package testing holds the suite used by app-level tests.
package testing

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// Suite runs an app for the duration of a test.
type Suite struct {
	suite.Suite
	appCtx context.Context
	ctx    context.Context
	app    AppI
}

// AppI is a long running app under test.
type AppI interface {
	Run(ctx context.Context) error
	WaitReady(ctx context.Context) (bool, error)
	Err() error
	Shutdown(ctx context.Context) error
}

// SetContext sets the test deadline. The app context outlives the test
// context slightly so that assertions fail before the app does.
func (s *Suite) SetContext(timeout time.Duration) (context.Context, context.Context) {
	t := s.T()
	t.Helper()

	require.Nil(t, s.appCtx, "Context cannot be set twice")

	ctx, _ := logger.WithField(context.Background(), "test", t.Name())
	appCtx, appCtxCancel := context.WithTimeout(ctx, timeout+100*time.Millisecond)
	ctx, cancel := context.WithTimeout(appCtx, timeout)
	t.Cleanup(func() {
		cancel()
		appCtxCancel()
		s.appCtx = nil
		s.ctx = nil
	})
	s.appCtx, s.ctx = appCtx, ctx
	return appCtx, ctx
}

// AppCtx is the context the app runs with.
func (s *Suite) AppCtx() context.Context {
	if ctx := s.appCtx; ctx != nil {
		return ctx
	}
	ctx, _ := s.SetContext(10 * time.Second)
	return ctx
}

// Ctx is the context for test assertions.
func (s *Suite) Ctx() context.Context {
	t := s.T()
	t.Helper()

	if ctx := s.ctx; ctx != nil {
		return ctx
	}
	_, ctx := s.SetContext(10 * time.Second)
	return ctx
}

// NewTmpDir creates a directory removed after the test.
func (s *Suite) NewTmpDir(pattern string) string {
	t := s.T()
	t.Helper()

	dir, err := os.MkdirTemp("", pattern)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, os.RemoveAll(dir))
	})
	return filepath.Clean(dir)
}

// StartApp runs the app in the background and waits until it's ready. It's
// shut down when the test ends.
func (s *Suite) StartApp(app AppI) {
	t := s.T()
	t.Helper()

	require.Nil(t, s.app, "Cannot start app twice")

	ctx := s.AppCtx()
	runErr := make(chan error, 1)
	go func() {
		runErr <- app.Run(ctx)
	}()

	t.Cleanup(func() {
		err := app.Shutdown(ctx)
		assert.NoError(t, err)
		assert.NoError(t, <-runErr)
		assert.NoError(t, app.Err())
		s.app = nil
	})

	ok, err := app.WaitReady(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	s.app = app
}
