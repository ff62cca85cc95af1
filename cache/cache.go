// Package cache implements a two-tier, TTL-bounded read-through cache on top
// of a storage.Store.
//
// Every logical key is stored twice: a short-lived primary entry and a
// long-lived fallback entry. Writes refresh both tiers, InvalidatePrimary
// drops only the primary one, and reads fall back to the older copy once the
// primary entry expires. Storage problems never reach the caller: corrupt
// entries are purged and reported as misses, failed writes are logged.
package cache

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lib/metrics"
	"github.com/toolbar-labs/magic-tracker/lib/storage"
)

const (
	primarySuffix  = ".primary"
	fallbackSuffix = ".fallback"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Freshness tells which tier answered a read.
type Freshness string

const (
	// FreshnessPrimary means the entry is younger than the primary TTL.
	FreshnessPrimary Freshness = "primary"
	// FreshnessFallback means the primary entry was gone or expired and the
	// long-lived copy was used instead.
	FreshnessFallback Freshness = "fallback"
)

// Entry is the persisted form of a cached value.
type Entry[T any] struct {
	Payload  T         `json:"payload"`
	CachedAt time.Time `json:"cachedAt"`
}

// Result is what a read returns.
type Result[T any] struct {
	Value     T
	CachedAt  time.Time
	Freshness Freshness
}

// Config configures a TieredCache.
type Config struct {
	// Storage is where entries are persisted.
	Storage storage.Store
	// PrimaryTTL bounds the age of a primary entry.
	PrimaryTTL time.Duration
	// FallbackTTL bounds the age of a fallback entry. Zero disables the
	// fallback tier entirely.
	FallbackTTL time.Duration
	// Clock is used to stamp and age entries.
	Clock clockwork.Clock
	// Log receives storage failures.
	Log logrus.FieldLogger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Storage == nil {
		return trace.BadParameter("missing storage")
	}
	if c.PrimaryTTL <= 0 {
		return trace.BadParameter("primary TTL must be positive")
	}
	if c.FallbackTTL < 0 {
		return trace.BadParameter("fallback TTL must not be negative")
	}
	if c.FallbackTTL > 0 && c.FallbackTTL < c.PrimaryTTL {
		return trace.BadParameter("fallback TTL %v is shorter than primary TTL %v", c.FallbackTTL, c.PrimaryTTL)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// TieredCache is a generic cache with a primary and a fallback tier.
type TieredCache[T any] struct {
	conf Config
}

// New creates a TieredCache.
func New[T any](conf Config) (*TieredCache[T], error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &TieredCache[T]{conf: conf}, nil
}

// PrimaryKey is the storage key of the primary tier.
func PrimaryKey(key string) string { return key + primarySuffix }

// FallbackKey is the storage key of the fallback tier.
func FallbackKey(key string) string { return key + fallbackSuffix }

func (c *TieredCache[T]) hasFallback() bool {
	return c.conf.FallbackTTL > 0
}

// Read returns the primary entry if it's still fresh, the fallback entry if
// that one is, and false otherwise.
func (c *TieredCache[T]) Read(ctx context.Context, key string) (Result[T], bool) {
	if entry, ok := c.readTier(ctx, key, PrimaryKey(key), c.conf.PrimaryTTL); ok {
		c.conf.Metrics.CacheRead(key, string(FreshnessPrimary))
		return Result[T]{Value: entry.Payload, CachedAt: entry.CachedAt, Freshness: FreshnessPrimary}, true
	}
	if c.hasFallback() {
		if entry, ok := c.readTier(ctx, key, FallbackKey(key), c.conf.FallbackTTL); ok {
			c.conf.Metrics.CacheRead(key, string(FreshnessFallback))
			return Result[T]{Value: entry.Payload, CachedAt: entry.CachedAt, Freshness: FreshnessFallback}, true
		}
	}
	c.conf.Metrics.CacheRead(key, "miss")
	return Result[T]{}, false
}

// Peek returns the primary entry whatever its age. If there's none, a fresh
// fallback entry is returned with a zero CachedAt so that the caller treats it
// as stale and refetches.
func (c *TieredCache[T]) Peek(ctx context.Context, key string) (Result[T], bool) {
	if entry, ok := c.readTier(ctx, key, PrimaryKey(key), 0); ok {
		return Result[T]{Value: entry.Payload, CachedAt: entry.CachedAt, Freshness: FreshnessPrimary}, true
	}
	if c.hasFallback() {
		if entry, ok := c.readTier(ctx, key, FallbackKey(key), c.conf.FallbackTTL); ok {
			return Result[T]{Value: entry.Payload, Freshness: FreshnessFallback}, true
		}
	}
	return Result[T]{}, false
}

// Write stores value in both tiers.
func (c *TieredCache[T]) Write(ctx context.Context, key string, value T) {
	data, err := json.Marshal(Entry[T]{Payload: value, CachedAt: c.conf.Clock.Now().UTC()})
	if err != nil {
		c.conf.Log.WithError(err).WithField("key", key).Warn("Failed to encode cache entry")
		c.conf.Metrics.CacheError(key, "encode")
		return
	}

	c.set(ctx, key, PrimaryKey(key), data)
	if c.hasFallback() {
		c.set(ctx, key, FallbackKey(key), data)
	}
}

// InvalidatePrimary drops the primary entry and keeps the fallback one.
func (c *TieredCache[T]) InvalidatePrimary(ctx context.Context, key string) {
	c.remove(ctx, key, PrimaryKey(key))
}

// ClearAll drops both tiers.
func (c *TieredCache[T]) ClearAll(ctx context.Context, key string) {
	c.remove(ctx, key, PrimaryKey(key))
	c.remove(ctx, key, FallbackKey(key))
}

// readTier reads one tier. A zero ttl disables the age check. Expired and
// corrupt entries are removed.
func (c *TieredCache[T]) readTier(ctx context.Context, key, tierKey string, ttl time.Duration) (Entry[T], bool) {
	var entry Entry[T]

	data, err := c.conf.Storage.Get(ctx, tierKey)
	if trace.IsNotFound(err) {
		return entry, false
	}
	if err != nil {
		c.conf.Log.WithError(err).WithField("key", tierKey).Warn("Failed to read cache entry")
		c.conf.Metrics.CacheError(key, "read")
		return entry, false
	}

	if err := json.Unmarshal(data, &entry); err != nil || entry.CachedAt.IsZero() {
		c.conf.Log.WithField("key", tierKey).Warn("Dropping corrupt cache entry")
		c.conf.Metrics.CacheError(key, "corrupt")
		c.remove(ctx, key, tierKey)
		return Entry[T]{}, false
	}

	if ttl > 0 && c.conf.Clock.Since(entry.CachedAt) > ttl {
		c.remove(ctx, key, tierKey)
		return Entry[T]{}, false
	}
	return entry, true
}

func (c *TieredCache[T]) set(ctx context.Context, key, tierKey string, data []byte) {
	if err := c.conf.Storage.Set(ctx, tierKey, data); err != nil {
		c.conf.Log.WithError(err).WithField("key", tierKey).Warn("Failed to write cache entry")
		c.conf.Metrics.CacheError(key, "write")
	}
}

func (c *TieredCache[T]) remove(ctx context.Context, key, tierKey string) {
	if err := c.conf.Storage.Remove(ctx, tierKey); err != nil {
		c.conf.Log.WithError(err).WithField("key", tierKey).Warn("Failed to remove cache entry")
		c.conf.Metrics.CacheError(key, "remove")
	}
}
