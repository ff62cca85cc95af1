package main

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/auth"
	"github.com/toolbar-labs/magic-tracker/auth/state"
	"github.com/toolbar-labs/magic-tracker/cache"
	"github.com/toolbar-labs/magic-tracker/joblist"
	"github.com/toolbar-labs/magic-tracker/lib"
	"github.com/toolbar-labs/magic-tracker/lib/job"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/metrics"
	"github.com/toolbar-labs/magic-tracker/lib/storage"
	"github.com/toolbar-labs/magic-tracker/lifecycle"
	"github.com/toolbar-labs/magic-tracker/notify"
	"github.com/toolbar-labs/magic-tracker/session"
	"github.com/toolbar-labs/magic-tracker/tracker"
)

// App contains global application state.
type App struct {
	conf  Config
	clock clockwork.Clock
	out   io.Writer

	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      *storage.DiskStore
	creds      *auth.CredentialStore
	client     *api.Client
	jobs       *joblist.List
	session    *session.Service
	notifier   notify.Notifier
	process    *job.Process
	tracker    *tracker.Tracker
	controller *lifecycle.Controller
	diag       *DiagServer

	mainMu  sync.Mutex
	mainJob *job.Handle
	readyCh chan struct{}

	subMu       sync.Mutex
	subscribers map[chan lifecycle.State]struct{}
}

// NewApp wires the application together.
func NewApp(conf Config) (*App, error) {
	a := &App{
		conf:        conf,
		clock:       clockwork.NewRealClock(),
		out:         os.Stdout,
		registry:    prometheus.NewRegistry(),
		readyCh:     make(chan struct{}),
		subscribers: make(map[chan lifecycle.State]struct{}),
	}
	log := logger.Standard()

	var err error
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return nil, trace.Wrap(err)
	}
	if a.store, err = storage.NewDiskStore(conf.Storage.Dir); err != nil {
		return nil, trace.Wrap(err)
	}

	profiles, err := cache.New[api.Profile](cache.Config{
		Storage:    a.store,
		PrimaryTTL: session.ProfileTTL,
		Clock:      a.clock,
		Log:        log,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	jobCache, err := cache.New[[]api.Job](cache.Config{
		Storage:     a.store,
		PrimaryTTL:  joblist.PrimaryTTL,
		FallbackTTL: joblist.FallbackTTL,
		Clock:       a.clock,
		Log:         log,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	credState, err := state.NewKVState(a.store, auth.CredentialKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	a.creds, err = auth.NewCredentialStore(auth.CredentialStoreConfig{
		State:        credState,
		Refresher:    api.NewAuthorizer(conf.API.BaseURL, conf.API.timeout, a.clock),
		ProfileCache: profiles,
		Clock:        a.clock,
		Log:          log,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	a.client, err = api.NewClient(api.Config{
		BaseURL: conf.API.BaseURL,
		Timeout: conf.API.timeout,
		Tokens:  a.creds,
		Log:     log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if a.jobs, err = joblist.New(joblist.Config{Cache: jobCache, Remote: a.client, Log: log}); err != nil {
		return nil, trace.Wrap(err)
	}
	a.session, err = session.New(session.Config{
		Credentials: a.creds,
		Profiles:    profiles,
		Remote:      a.client,
		Jobs:        a.jobs,
		Log:         log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if a.notifier, err = newNotifier(conf); err != nil {
		return nil, trace.Wrap(err)
	}

	a.process = job.NewProcess(context.Background())
	a.tracker, err = tracker.New(tracker.Config{
		Remote:   a.client,
		Process:  a.process,
		Interval: conf.Tracking.pollInterval,
		Clock:    a.clock,
		Log:      log,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	a.controller, err = lifecycle.New(lifecycle.Config{
		Remote:   a.client,
		Jobs:     a.jobs,
		Tracker:  a.tracker,
		Notifier: a.notifier,
		Errors: &notify.ErrorHandler{
			Notifier:   a.notifier,
			PricingURL: conf.Notify.PricingURL,
			Log:        log,
		},
		OnChange: a.publish,
		Clock:    a.clock,
		Log:      log,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return a, nil
}

func newNotifier(conf Config) (notify.Notifier, error) {
	switch conf.Notify.Mode {
	case notifyModeMailgun:
		n, err := notify.NewMailgun(conf.Mailgun, conf.Notify.Sender, conf.Notify.Recipients)
		return n, trace.Wrap(err)
	case notifyModeSMTP:
		n, err := notify.NewSMTP(conf.SMTP, conf.Notify.Sender, conf.Notify.Recipients)
		return n, trace.Wrap(err)
	default:
		return notify.LogNotifier{Log: logger.Standard()}, nil
	}
}

// Run resumes tracking left over by a previous run, serves the diag
// endpoints and keeps tracking until shut down.
func (a *App) Run(ctx context.Context) error {
	mainJob := a.process.SpawnFunc(a.run, job.Critical(true))
	a.mainMu.Lock()
	a.mainJob = mainJob
	a.mainMu.Unlock()

	select {
	case <-ctx.Done():
		a.process.Stop()
	case <-a.process.Done():
	}
	<-a.process.Done()
	return trace.Wrap(a.Err())
}

// Err returns the error app finished with.
func (a *App) Err() error {
	a.mainMu.Lock()
	mainJob := a.mainJob
	a.mainMu.Unlock()
	if mainJob == nil {
		return nil
	}
	select {
	case <-mainJob.Done():
		return trace.Wrap(mainJob.Err())
	default:
		return nil
	}
}

// WaitReady waits for the resume scan and the diag server.
func (a *App) WaitReady(ctx context.Context) (bool, error) {
	select {
	case <-a.readyCh:
		return true, nil
	case <-a.process.Done():
		return false, trace.Wrap(a.Err())
	case <-ctx.Done():
		return false, trace.Wrap(ctx.Err())
	}
}

// Shutdown stops tracking and waits for every job to finish.
func (a *App) Shutdown(ctx context.Context) error {
	a.controller.Close()
	return trace.Wrap(a.process.Shutdown(ctx))
}

// Close stops everything without waiting.
func (a *App) Close() {
	a.controller.Close()
	a.process.Stop()
}

func (a *App) run(ctx context.Context) error {
	log := logger.Get(ctx)
	log.Infof("Starting magic-tracker %s:%s", Version, Gitref)

	if a.conf.DiagAddr != "" {
		var err error
		a.diag, err = NewDiagServer(a.conf.DiagAddr, a.registry, a.controller)
		if err != nil {
			return trace.Wrap(err)
		}
		a.process.SpawnFunc(a.diag.Run, job.Critical(true))
		log.WithField("addr", a.diag.Addr()).Debug("Diag server is listening")
	}

	if !a.session.Status(ctx).SignedIn {
		log.Warn("Not signed in, only cached jobs can be resumed. Run 'magic-tracker login' first.")
	}
	if !a.controller.ResumeFromCache(ctx) {
		log.Debug("No unfinished job to resume")
	}
	close(a.readyCh)

	<-ctx.Done()
	a.controller.Close()
	if lib.IsCanceled(ctx.Err()) {
		return nil
	}
	return trace.Wrap(ctx.Err())
}

// Subscribe streams the controller state changes until cancel is called.
// Slow subscribers miss intermediate states.
func (a *App) Subscribe() (<-chan lifecycle.State, func()) {
	ch := make(chan lifecycle.State, 16)
	a.subMu.Lock()
	a.subscribers[ch] = struct{}{}
	a.subMu.Unlock()
	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subscribers, ch)
	}
}

func (a *App) publish(st lifecycle.State) {
	logger.Standard().WithFields(logger.Fields{"phase": st.Phase, "progress": st.Progress}).Debug("Tracking state changed")
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}
