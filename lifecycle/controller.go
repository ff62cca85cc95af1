// Package lifecycle drives a job from creation through tracking to
// completion, one job at a time.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/lib/job"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/metrics"
	"github.com/toolbar-labs/magic-tracker/notify"
	"github.com/toolbar-labs/magic-tracker/tracker"
)

const (
	// CompletionDelay is how long the completed state is shown before going
	// back to idle.
	CompletionDelay = 2 * time.Second
	// ResumeWindow is the maximum age of an in-progress job that is resumed
	// on start. Older jobs are marked completed.
	ResumeWindow = 5 * time.Minute
)

// Phase is the controller phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCreating  Phase = "creating"
	PhaseTracking  Phase = "tracking"
	PhaseCompleted Phase = "completed"
)

// State is a snapshot of the controller.
type State struct {
	Phase Phase
	// Job is the tracked job in the tracking and completed phases.
	Job *api.Job
	// Progress is the last known progress in [0, 100].
	Progress int
	// LastError is the last poll failure of the tracked job.
	LastError error
}

func (s State) clone() State {
	if s.Job != nil {
		j := *s.Job
		s.Job = &j
	}
	return s
}

// JobCreator creates jobs remotely.
type JobCreator interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (*api.Job, error)
}

// JobList is the cached job list.
type JobList interface {
	Get(ctx context.Context) []api.Job
	Upsert(ctx context.Context, job api.Job)
	SetStatus(ctx context.Context, jobID string, status api.JobStatus) bool
}

// Tracker polls a job.
type Tracker interface {
	Track(jobID string, cb tracker.Callbacks) *job.Handle
}

// ErrorReporter surfaces errors to the user.
type ErrorReporter interface {
	Handle(ctx context.Context, err error)
}

// Config configures a Controller.
type Config struct {
	Remote  JobCreator
	Jobs    JobList
	Tracker Tracker
	// Notifier announces completed jobs.
	Notifier notify.Notifier
	// Errors receives job creation failures.
	Errors ErrorReporter
	// OnChange is called after every transition, in order. It must not call
	// back into the Controller.
	OnChange func(State)
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Remote == nil {
		return trace.BadParameter("missing job creator")
	}
	if c.Jobs == nil {
		return trace.BadParameter("missing job list")
	}
	if c.Tracker == nil {
		return trace.BadParameter("missing tracker")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	if c.Notifier == nil {
		c.Notifier = notify.LogNotifier{Log: c.Log}
	}
	if c.Errors == nil {
		c.Errors = &notify.ErrorHandler{Notifier: c.Notifier, Log: c.Log}
	}
	return nil
}

// Controller is the job lifecycle state machine. Only one job is tracked at
// a time.
type Controller struct {
	conf Config
	ctx  context.Context

	mu    sync.Mutex
	state State
	// gen changes whenever the tracked job changes; callbacks, create
	// results and timers of an older generation are ignored.
	gen       uint64
	handle    *job.Handle
	idleTimer clockwork.Timer
	resumed   bool
	closed    bool

	// emitMu keeps OnChange calls in transition order.
	emitMu sync.Mutex
}

// New creates a Controller in the idle phase.
func New(conf Config) (*Controller, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Controller{
		conf:  conf,
		ctx:   logger.WithLogger(context.Background(), conf.Log),
		state: State{Phase: PhaseIdle},
	}, nil
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// CreateJob creates a job and starts tracking it. It does nothing unless the
// controller is idle. Creation failures bring the controller back to idle and
// go to the error reporter. It returns true if tracking started.
func (c *Controller) CreateJob(ctx context.Context, req api.CreateJobRequest) bool {
	c.mu.Lock()
	if c.closed || c.state.Phase != PhaseIdle {
		c.mu.Unlock()
		logger.Get(ctx).Debug("A job is already in flight, ignoring the request")
		return false
	}
	c.gen++
	gen := c.gen
	c.setState(State{Phase: PhaseCreating})
	c.unlockAndEmit()

	created, err := c.conf.Remote.CreateJob(ctx, req)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		logger.Get(ctx).Debug("Controller was reset while creating the job, dropping the result")
		return false
	}
	if err != nil {
		c.setState(State{Phase: PhaseIdle})
		c.unlockAndEmit()
		logger.Get(ctx).WithError(err).Warn("Failed to create job")
		c.conf.Errors.Handle(ctx, err)
		return false
	}

	optimistic := *created
	optimistic.Status = api.JobGenerating
	c.conf.Jobs.Upsert(ctx, optimistic)
	c.startTracking(gen, optimistic)
	c.unlockAndEmit()

	logger.Get(ctx).WithField("job_id", optimistic.ID).Info("Job created")
	return true
}

// Clear stops whatever is going on and goes back to idle.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.gen++
	c.stop()
	c.setState(State{Phase: PhaseIdle})
	c.unlockAndEmit()
}

// ResumeFromCache loads the job list and resumes from it. See Resume.
func (c *Controller) ResumeFromCache(ctx context.Context) bool {
	return c.Resume(ctx, c.conf.Jobs.Get(ctx))
}

// Resume looks for jobs left in progress by a previous run. Only the first
// in-progress job of the list is a candidate: it is tracked if it is younger
// than ResumeWindow and nothing else is. In-progress jobs older than
// ResumeWindow are marked completed. The scan runs once per controller; an empty list doesn't
// count as a scan. It returns true if tracking started.
func (c *Controller) Resume(ctx context.Context, jobs []api.Job) bool {
	log := logger.Get(ctx)

	c.mu.Lock()
	if c.closed || c.resumed || len(jobs) == 0 {
		c.mu.Unlock()
		return false
	}
	c.resumed = true

	now := c.conf.Clock.Now()
	var (
		resume *api.Job
		stale  []string
		first  = true
	)
	for i := range jobs {
		j := jobs[i]
		if !j.Status.InProgress() {
			continue
		}
		recent := now.Sub(j.CreatedAt) <= ResumeWindow
		if !recent {
			stale = append(stale, j.ID)
		} else if first && c.state.Phase == PhaseIdle {
			resume = &j
		}
		first = false
	}

	if resume == nil {
		c.mu.Unlock()
	} else {
		c.gen++
		c.startTracking(c.gen, *resume)
		c.unlockAndEmit()
		log.WithField("job_id", resume.ID).Info("Resumed tracking")
	}

	for _, id := range stale {
		c.conf.Jobs.SetStatus(ctx, id, api.JobCompleted)
		log.WithField("job_id", id).Debug("Marked abandoned job completed")
	}
	return resume != nil
}

// Close stops tracking for good. The state is left as is.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
	c.stop()
}

// startTracking must be called with mu held.
func (c *Controller) startTracking(gen uint64, j api.Job) {
	c.setState(State{Phase: PhaseTracking, Job: &j})
	c.handle = c.conf.Tracker.Track(j.ID, tracker.Callbacks{
		Active: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.current(gen, PhaseTracking)
		},
		OnProgress: func(u tracker.Update) { c.onProgress(gen, u) },
		OnComplete: func(u tracker.Update) { c.onComplete(gen, u) },
		OnError:    func(err error) { c.onError(gen, err) },
	})
}

func (c *Controller) onProgress(gen uint64, u tracker.Update) {
	c.mu.Lock()
	if !c.current(gen, PhaseTracking) {
		c.mu.Unlock()
		return
	}
	c.conf.Jobs.SetStatus(c.ctx, u.JobID, u.Status)
	st := c.state.clone()
	st.Progress = u.Percent
	st.Job.Status = u.Status
	st.LastError = nil
	c.setState(st)
	c.unlockAndEmit()
}

func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	if !c.current(gen, PhaseTracking) {
		c.mu.Unlock()
		return
	}
	st := c.state.clone()
	st.LastError = err
	c.setState(st)
	c.unlockAndEmit()
}

func (c *Controller) onComplete(gen uint64, u tracker.Update) {
	c.mu.Lock()
	if !c.current(gen, PhaseTracking) {
		c.mu.Unlock()
		return
	}
	c.conf.Jobs.SetStatus(c.ctx, u.JobID, api.JobCompleted)
	st := c.state.clone()
	st.Phase = PhaseCompleted
	st.Progress = u.Percent
	st.LastError = nil
	st.Job.Status = api.JobCompleted
	if u.URL != "" {
		st.Job.URL = u.URL
	}
	c.handle = nil
	c.idleTimer = c.conf.Clock.AfterFunc(CompletionDelay, func() { c.finish(gen) })
	c.setState(st)
	url := st.Job.URL
	c.unlockAndEmit()

	logger.Get(c.ctx).WithField("job_id", u.JobID).Info("Job completed")
	if err := c.conf.Notifier.Notify(c.ctx, notify.Completion(url)); err != nil {
		logger.Get(c.ctx).WithError(err).Error("Failed to send the completion notification")
	}
}

func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if !c.current(gen, PhaseCompleted) {
		c.mu.Unlock()
		return
	}
	c.idleTimer = nil
	c.setState(State{Phase: PhaseIdle})
	c.unlockAndEmit()
}

// current must be called with mu held.
func (c *Controller) current(gen uint64, phase Phase) bool {
	return !c.closed && gen == c.gen && c.state.Phase == phase
}

// stop must be called with mu held.
func (c *Controller) stop() {
	c.handle.Cancel()
	c.handle = nil
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// setState must be called with mu held.
func (c *Controller) setState(st State) {
	if c.state.Phase != st.Phase {
		c.conf.Metrics.Transition(string(st.Phase))
	}
	c.state = st
}

// unlockAndEmit releases mu and reports the state it left behind.
func (c *Controller) unlockAndEmit() {
	st := c.state.clone()
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	if c.conf.OnChange != nil {
		c.conf.OnChange(st)
	}
}
