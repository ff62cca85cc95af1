// Package joblist keeps the user's job list in the tiered cache and goes to
// the API only when the cached copy is stale.
package joblist

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/cache"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

const (
	// CacheKey is the logical cache key of the job list.
	CacheKey = "jobs"
	// PrimaryTTL is how long a fetched list is served without refetching.
	PrimaryTTL = 10 * time.Minute
	// FallbackTTL is how long a list survives as an offline copy.
	FallbackTTL = 24 * time.Hour
)

// Fetcher lists the jobs remotely.
type Fetcher interface {
	ListJobs(ctx context.Context) ([]api.Job, error)
}

// Config configures a List.
type Config struct {
	Cache  *cache.TieredCache[[]api.Job]
	Remote Fetcher
	Log    logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Cache == nil {
		return trace.BadParameter("missing job list cache")
	}
	if c.Remote == nil {
		return trace.BadParameter("missing remote job source")
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// List is the cache-first job list.
type List struct {
	conf Config
	// mu serializes read-modify-write cycles of this process.
	mu sync.Mutex
}

// New creates a List.
func New(conf Config) (*List, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &List{conf: conf}, nil
}

// Get returns the freshest list it can. A fresh cached copy is returned as
// is; otherwise the list is fetched and, if that fails, the stale copy or an
// empty list is returned.
func (l *List) Get(ctx context.Context) []api.Job {
	cached, ok := l.conf.Cache.Read(ctx, CacheKey)
	if ok && cached.Freshness == cache.FreshnessPrimary {
		return cached.Value
	}

	jobs, err := l.Fetch(ctx)
	if err == nil {
		return jobs
	}
	log := logger.Get(ctx)
	if ok {
		log.WithError(err).WithField("cached_at", cached.CachedAt).Warn("Failed to fetch jobs, serving the offline copy")
		return cached.Value
	}
	log.WithError(err).Warn("Failed to fetch jobs")
	return []api.Job{}
}

// Fetch lists the jobs remotely and caches the result.
func (l *List) Fetch(ctx context.Context) ([]api.Job, error) {
	jobs, err := l.conf.Remote.ListJobs(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if jobs == nil {
		jobs = []api.Job{}
	}
	l.conf.Cache.Write(ctx, CacheKey, jobs)
	return jobs, nil
}

// Refresh drops the fresh copy and refetches.
func (l *List) Refresh(ctx context.Context) ([]api.Job, error) {
	l.conf.Cache.InvalidatePrimary(ctx, CacheKey)
	jobs, err := l.Fetch(ctx)
	return jobs, trace.Wrap(err)
}

// Peek returns the cached list without fetching. CachedAt is zero when only
// the offline copy exists.
func (l *List) Peek(ctx context.Context) (cache.Result[[]api.Job], bool) {
	return l.conf.Cache.Peek(ctx, CacheKey)
}

// Upsert puts a job at the top of the list, or replaces it in place if it's
// already there.
func (l *List) Upsert(ctx context.Context, job api.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs := l.current(ctx)
	for i := range jobs {
		if jobs[i].ID == job.ID {
			jobs[i] = job
			l.conf.Cache.Write(ctx, CacheKey, jobs)
			return
		}
	}
	l.conf.Cache.Write(ctx, CacheKey, append([]api.Job{job}, jobs...))
}

// SetStatus updates the status of a cached job. It returns false if the job
// isn't cached.
func (l *List) SetStatus(ctx context.Context, jobID string, status api.JobStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs := l.current(ctx)
	for i := range jobs {
		if jobs[i].ID != jobID {
			continue
		}
		if jobs[i].Status != status {
			jobs[i].Status = status
			l.conf.Cache.Write(ctx, CacheKey, jobs)
		}
		return true
	}
	return false
}

// Replace overwrites the cached list.
func (l *List) Replace(ctx context.Context, jobs []api.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conf.Cache.Write(ctx, CacheKey, jobs)
}

// Clear drops every cached copy.
func (l *List) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conf.Cache.ClearAll(ctx, CacheKey)
}

func (l *List) current(ctx context.Context) []api.Job {
	cached, ok := l.conf.Cache.Peek(ctx, CacheKey)
	if !ok {
		return nil
	}
	return cached.Value
}
