package joblist

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/cache"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/storage"
)

type mockFetcher struct {
	calls int32
	jobs  []api.Job
	err   error
}

func (f *mockFetcher) ListJobs(context.Context) ([]api.Job, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]api.Job{}, f.jobs...), nil
}

func (f *mockFetcher) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

func newTestList(t *testing.T, remote *mockFetcher) (*List, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	jobCache, err := cache.New[[]api.Job](cache.Config{
		Storage:     storage.NewMemoryStore(),
		PrimaryTTL:  PrimaryTTL,
		FallbackTTL: FallbackTTL,
		Clock:       clock,
		Log:         logger.Discard(),
	})
	require.NoError(t, err)
	list, err := New(Config{Cache: jobCache, Remote: remote, Log: logger.Discard()})
	require.NoError(t, err)
	return list, clock
}

func sampleJobs() []api.Job {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []api.Job{
		{ID: "b", Name: "Pricing page", CreatedAt: created.Add(time.Hour), Status: api.JobGenerating},
		{ID: "a", Name: "Landing page", CreatedAt: created, Status: api.JobCompleted},
	}
}

func TestGetIsCacheFirst(t *testing.T) {
	ctx := context.Background()
	remote := &mockFetcher{jobs: sampleJobs()}
	list, clock := newTestList(t, remote)

	require.Empty(t, cmp.Diff(sampleJobs(), list.Get(ctx)))
	require.Equal(t, 1, remote.Calls())

	clock.Advance(PrimaryTTL)
	list.Get(ctx)
	require.Equal(t, 1, remote.Calls(), "a fresh copy is served from cache")

	clock.Advance(time.Second)
	list.Get(ctx)
	require.Equal(t, 2, remote.Calls(), "a stale copy triggers a fetch")
}

func TestGetFallsBackToOfflineCopy(t *testing.T) {
	ctx := context.Background()
	remote := &mockFetcher{jobs: sampleJobs()}
	list, clock := newTestList(t, remote)
	list.Get(ctx)

	remote.err = &api.APIError{Code: api.CodeNetworkError, Message: "offline"}
	clock.Advance(time.Hour)
	require.Empty(t, cmp.Diff(sampleJobs(), list.Get(ctx)))

	clock.Advance(FallbackTTL)
	jobs := list.Get(ctx)
	require.NotNil(t, jobs)
	require.Empty(t, jobs)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	remote := &mockFetcher{jobs: sampleJobs()}
	list, _ := newTestList(t, remote)
	list.Get(ctx)

	remote.jobs = remote.jobs[:1]
	jobs, err := list.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 2, remote.Calls())

	remote.err = &api.APIError{Code: api.CodeAPIError, Message: "HTTP 500"}
	_, err = list.Refresh(ctx)
	require.Error(t, err)

	peeked, ok := list.Peek(ctx)
	require.True(t, ok, "the offline copy survives a failed refresh")
	require.Equal(t, cache.FreshnessFallback, peeked.Freshness)
	require.True(t, peeked.CachedAt.IsZero())
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	list, _ := newTestList(t, &mockFetcher{jobs: sampleJobs()})

	list.Upsert(ctx, api.Job{ID: "c", Name: "Blog", Status: api.JobGenerating})
	list.Get(ctx)
	peeked, ok := list.Peek(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"c"}, ids(peeked.Value), "an upsert on an empty cache starts a list")

	list.Replace(ctx, sampleJobs())
	list.Upsert(ctx, api.Job{ID: "c", Name: "Blog", Status: api.JobGenerating})
	list.Upsert(ctx, api.Job{ID: "a", Name: "Landing page v2", Status: api.JobGenerating})

	jobs := list.Get(ctx)
	require.Equal(t, []string{"c", "b", "a"}, ids(jobs))
	require.Equal(t, "Landing page v2", jobs[2].Name)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	list, _ := newTestList(t, &mockFetcher{})
	list.Replace(ctx, sampleJobs())

	require.True(t, list.SetStatus(ctx, "b", api.JobCompleted))
	require.False(t, list.SetStatus(ctx, "missing", api.JobCompleted))

	jobs := list.Get(ctx)
	require.Equal(t, api.JobCompleted, jobs[0].Status)

	list.Clear(ctx)
	_, ok := list.Peek(ctx)
	require.False(t, ok)
}

func ids(jobs []api.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ID)
	}
	return out
}
