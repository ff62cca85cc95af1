package cache

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/storage"
)

const (
	primaryTTL  = 10 * time.Minute
	fallbackTTL = 24 * time.Hour
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T, store storage.Store, clock clockwork.Clock) *TieredCache[[]item] {
	t.Helper()
	c, err := New[[]item](Config{
		Storage:     store,
		PrimaryTTL:  primaryTTL,
		FallbackTTL: fallbackTTL,
		Clock:       clock,
		Log:         logger.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestTTLTiers(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, storage.NewMemoryStore(), clock)

	value := []item{{ID: "1", Name: "landing"}}
	c.Write(ctx, "jobs", value)

	res, ok := c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessPrimary, res.Freshness)
	require.Equal(t, value, res.Value)

	clock.Advance(primaryTTL)
	res, ok = c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessPrimary, res.Freshness, "an entry exactly TTL old is still fresh")

	clock.Advance(time.Millisecond)
	res, ok = c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessFallback, res.Freshness)
	require.Equal(t, value, res.Value)

	clock.Advance(fallbackTTL - primaryTTL)
	_, ok = c.Read(ctx, "jobs")
	require.False(t, ok)
}

func TestWriteRefreshesFallback(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, storage.NewMemoryStore(), clock)

	c.Write(ctx, "jobs", []item{{ID: "old"}})
	clock.Advance(20 * time.Hour)
	c.Write(ctx, "jobs", []item{{ID: "new"}})
	clock.Advance(20 * time.Hour)

	res, ok := c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessFallback, res.Freshness)
	require.Equal(t, "new", res.Value[0].ID)
}

func TestInvalidatePrimaryKeepsFallback(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := newTestCache(t, store, clockwork.NewFakeClock())

	c.Write(ctx, "jobs", []item{{ID: "1"}})
	c.InvalidatePrimary(ctx, "jobs")

	res, ok := c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessFallback, res.Freshness)

	c.ClearAll(ctx, "jobs")
	_, ok = c.Read(ctx, "jobs")
	require.False(t, ok)
	require.Empty(t, store.Keys())
}

func TestCorruptEntryIsPurged(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, store, clock)

	c.Write(ctx, "jobs", []item{{ID: "1"}})
	require.NoError(t, store.Set(ctx, PrimaryKey("jobs"), []byte("{not json")))

	res, ok := c.Read(ctx, "jobs")
	require.True(t, ok, "fallback still answers")
	require.Equal(t, FreshnessFallback, res.Freshness)

	_, err := store.Get(ctx, PrimaryKey("jobs"))
	require.True(t, trace.IsNotFound(err), "corrupt key must be purged")

	require.NoError(t, store.Set(ctx, FallbackKey("jobs"), []byte(`{"payload":[]}`)))
	_, ok = c.Read(ctx, "jobs")
	require.False(t, ok, "an entry without a timestamp is corrupt")
	require.Empty(t, store.Keys())
}

func TestExpiredEntriesArePurged(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, store, clock)

	c.Write(ctx, "jobs", []item{{ID: "1"}})
	clock.Advance(primaryTTL + time.Second)
	_, ok := c.Read(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, []string{FallbackKey("jobs")}, store.Keys())
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, trace.ConnectionProblem(nil, "disk on fire")
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return trace.ConnectionProblem(nil, "disk on fire")
}

func (brokenStore) Remove(context.Context, string) error {
	return trace.ConnectionProblem(nil, "disk on fire")
}

func TestStorageFailuresDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, brokenStore{}, clockwork.NewFakeClock())

	c.Write(ctx, "jobs", []item{{ID: "1"}})
	c.InvalidatePrimary(ctx, "jobs")
	c.ClearAll(ctx, "jobs")
	_, ok := c.Read(ctx, "jobs")
	require.False(t, ok)
	_, ok = c.Peek(ctx, "jobs")
	require.False(t, ok)
}

func TestSingleTier(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	c, err := New[item](Config{
		Storage:    store,
		PrimaryTTL: 5 * time.Minute,
		Clock:      clock,
		Log:        logger.Discard(),
	})
	require.NoError(t, err)

	c.Write(ctx, "auth.profile", item{ID: "u1"})
	require.Equal(t, []string{PrimaryKey("auth.profile")}, store.Keys())

	clock.Advance(5*time.Minute + time.Millisecond)
	_, ok := c.Read(ctx, "auth.profile")
	require.False(t, ok)
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, storage.NewMemoryStore(), clock)

	_, ok := c.Peek(ctx, "jobs")
	require.False(t, ok)

	c.Write(ctx, "jobs", []item{{ID: "1"}})
	written := clock.Now().UTC()

	clock.Advance(time.Hour)
	res, ok := c.Peek(ctx, "jobs")
	require.True(t, ok, "peek ignores the primary TTL")
	require.True(t, written.Equal(res.CachedAt))

	c.InvalidatePrimary(ctx, "jobs")
	res, ok = c.Peek(ctx, "jobs")
	require.True(t, ok)
	require.Equal(t, FreshnessFallback, res.Freshness)
	require.True(t, res.CachedAt.IsZero())
}

func TestConfigValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	for _, conf := range []Config{
		{PrimaryTTL: time.Minute},
		{Storage: store},
		{Storage: store, PrimaryTTL: time.Hour, FallbackTTL: time.Minute},
		{Storage: store, PrimaryTTL: time.Hour, FallbackTTL: -time.Minute},
	} {
		_, err := New[item](conf)
		require.True(t, trace.IsBadParameter(err))
	}
}
