// Package cache implements cached functions on top of domain.Store.
//
// Every value is wrapped in an Entry that records when it was stored and when it
// stops being fresh. A read past ExpiresAt is a miss; there is no stale serving.
// Values a loader reports as failed can be given a shorter lifetime and can be
// skipped on read, so that a transient upstream outage is retried instead of
// being served for the full window.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/svglol/better-clips/internal/domain"
)

type Entry[T any] struct {
	Key       string    `json:"key"`
	Value     T         `json:"value"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e Entry[T]) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Recorder receives hit/miss events. *metrics.CacheMetrics satisfies it.
type Recorder interface {
	Hit(cache string)
	Miss(cache string)
}

type Options[T any] struct {
	Name string
	TTL  time.Duration

	// Failed classifies a loaded value as a degraded result.
	Failed func(T) bool
	// FailureTTL is the lifetime of failed values. Zero means they are not stored.
	FailureTTL time.Duration
	// BypassFailed treats a cached failed value as a miss.
	BypassFailed bool

	Recorder Recorder
}

type Loader[T any] struct {
	store domain.Store
	clock clockwork.Clock
	opts  Options[T]
	group singleflight.Group
}

func New[T any](store domain.Store, clock clockwork.Clock, opts Options[T]) *Loader[T] {
	return &Loader[T]{
		store: store,
		clock: clock,
		opts:  opts,
	}
}

// Get returns the fresh cached value for key or runs load. Concurrent misses for
// the same key share one load. Load errors are returned and never cached.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if value, ok := l.lookup(ctx, key); ok {
		l.record(true)
		return value, nil
	}
	l.record(false)

	result, err, _ := l.group.Do(key, func() (any, error) {
		if value, ok := l.lookup(ctx, key); ok {
			return value, nil
		}

		// Shared load: detached from the first caller's cancellation.
		value, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.write(ctx, key, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Invalidate drops the cached value for key.
func (l *Loader[T]) Invalidate(ctx context.Context, key string) error {
	return l.store.Delete(ctx, l.storeKey(key))
}

func (l *Loader[T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T

	raw, err := l.store.Get(ctx, l.storeKey(key))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "Cache read failed", "cache", l.opts.Name, "error", err)
		}
		return zero, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cache entry", "cache", l.opts.Name, "error", err)
		return zero, false
	}

	if !entry.Fresh(l.clock.Now()) {
		return zero, false
	}
	if l.opts.BypassFailed && l.failed(entry.Value) {
		return zero, false
	}
	return entry.Value, true
}

func (l *Loader[T]) write(ctx context.Context, key string, value T) {
	ttl := l.opts.TTL
	if l.failed(value) {
		ttl = l.opts.FailureTTL
	}
	if ttl <= 0 {
		return
	}

	now := l.clock.Now()
	entry := Entry[T]{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal cache entry", "cache", l.opts.Name, "error", err)
		return
	}

	if err := l.store.Set(ctx, l.storeKey(key), encoded, ttl); err != nil {
		slog.WarnContext(ctx, "Cache write failed", "cache", l.opts.Name, "error", err)
	}
}

func (l *Loader[T]) failed(value T) bool {
	return l.opts.Failed != nil && l.opts.Failed(value)
}

func (l *Loader[T]) record(hit bool) {
	if l.opts.Recorder == nil {
		return
	}
	if hit {
		l.opts.Recorder.Hit(l.opts.Name)
	} else {
		l.opts.Recorder.Miss(l.opts.Name)
	}
}

func (l *Loader[T]) storeKey(key string) string {
	return "cache:" + l.opts.Name + ":" + key
}
