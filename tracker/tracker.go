// Package tracker polls the progress of a job until it completes.
package tracker

import (
	"context"
	"math"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/lib/job"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/metrics"
)

// DefaultPollInterval is the delay between two status polls.
const DefaultPollInterval = 5 * time.Second

// StatusSource polls the status of a job.
type StatusSource interface {
	JobStatus(ctx context.Context, jobID string) (*api.StatusResponse, error)
}

// StatusSink receives the status of every poll.
type StatusSink interface {
	SetStatus(ctx context.Context, jobID string, status api.JobStatus) bool
}

// Update is the outcome of a single poll.
type Update struct {
	JobID string
	URL   string
	// Percent is the progress in [0, 100].
	Percent  int
	Status   api.JobStatus
	Progress api.Progress
}

// Callbacks are invoked from the polling goroutine.
type Callbacks struct {
	// OnProgress is called for every poll that didn't complete the job.
	OnProgress func(Update)
	// OnComplete is called once, after which polling stops.
	OnComplete func(Update)
	// OnError is called when a poll fails. Polling goes on.
	OnError func(error)
	// Active reports whether the job is still wanted. A poll result that
	// arrives after it turned false is dropped and polling stops.
	Active func() bool
}

// Config configures a Tracker.
type Config struct {
	Remote StatusSource
	// Jobs receives the status of every poll that wasn't discarded. The write
	// is not synchronized with Callbacks.Active, so owners that can supersede
	// a tracked job leave it nil and merge results in their callbacks.
	Jobs    StatusSink
	Process *job.Process
	// Interval is the delay between polls.
	Interval time.Duration
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Remote == nil {
		return trace.BadParameter("missing status source")
	}
	if c.Process == nil {
		return trace.BadParameter("missing process")
	}
	if c.Interval < 0 {
		return trace.BadParameter("poll interval must not be negative")
	}
	if c.Interval == 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Tracker spawns one polling job per tracked job.
type Tracker struct {
	conf Config
}

// New creates a Tracker.
func New(conf Config) (*Tracker, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Tracker{conf: conf}, nil
}

// Track starts polling jobID. The first poll happens right away. Cancel the
// returned handle to stop polling.
func (t *Tracker) Track(jobID string, cb Callbacks) *job.Handle {
	return t.conf.Process.SpawnFunc(func(ctx context.Context) error {
		ctx, log := logger.WithField(logger.WithLogger(ctx, t.conf.Log), "job_id", jobID)
		log.Debug("Tracking job")

		ticker := t.conf.Clock.NewTicker(t.conf.Interval)
		defer ticker.Stop()

		for {
			if t.poll(ctx, jobID, cb) {
				return nil
			}
			select {
			case <-ctx.Done():
				return trace.Wrap(ctx.Err())
			case <-ticker.Chan():
			}
		}
	})
}

// poll runs a single poll and reports whether polling is over.
func (t *Tracker) poll(ctx context.Context, jobID string, cb Callbacks) bool {
	log := logger.Get(ctx)
	resp, err := t.conf.Remote.JobStatus(ctx, jobID)
	if ctx.Err() != nil || (cb.Active != nil && !cb.Active()) {
		t.conf.Metrics.Poll("discarded")
		log.Debug("Job is no longer tracked, dropping the poll result")
		return true
	}
	if err != nil {
		t.conf.Metrics.Poll("error")
		log.WithError(err).WithField("code", api.ErrorCode(err)).Warn("Failed to poll job status")
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return false
	}
	t.conf.Metrics.Poll("success")

	update := Update{
		JobID:    jobID,
		URL:      resp.JobURL,
		Percent:  ComputeProgress(resp.Progress),
		Status:   MapStatus(resp.Progress),
		Progress: resp.Progress,
	}
	if t.conf.Jobs != nil {
		t.conf.Jobs.SetStatus(ctx, jobID, update.Status)
	}
	log.WithFields(logger.Fields{"percent": update.Percent, "status": update.Status}).Debug("Polled job status")

	if update.Status == api.JobCompleted {
		if cb.OnComplete != nil {
			cb.OnComplete(update)
		}
		return true
	}
	if cb.OnProgress != nil {
		cb.OnProgress(update)
	}
	return false
}

// ComputeProgress converts poll counters into a percentage in [0, 100].
func ComputeProgress(p api.Progress) int {
	if p.Total <= 0 {
		return 0
	}
	percent := math.Round(100 * p.Completed / p.Total)
	switch {
	case math.IsNaN(percent), percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return int(percent)
}

// MapStatus derives the job list status from a poll.
func MapStatus(p api.Progress) api.JobStatus {
	switch {
	case p.IsCompleted:
		return api.JobCompleted
	case p.IsInProgress:
		return api.JobGenerating
	case p.HasErrors:
		return api.JobError
	default:
		return api.JobLoading
	}
}
