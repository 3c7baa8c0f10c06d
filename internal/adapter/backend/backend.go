// Package backend opens the configured Store implementation.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/svglol/better-clips/internal/adapter/memory"
	"github.com/svglol/better-clips/internal/adapter/postgres"
	"github.com/svglol/better-clips/internal/adapter/redis"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/config"
)

const memoryEvictionInterval = time.Minute

// Recorder receives store operation timings from every backend.
type Recorder interface {
	redis.Recorder
	postgres.Recorder
}

type Config struct {
	Kind        string
	RedisURL    string
	DatabaseURL string

	// Migrate applies pending Postgres migrations on open.
	Migrate bool
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Kind:        cfg.StoreBackend,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
		Migrate:     true,
	}
}

// Backend is an opened store. Purger is set only for backends that keep
// expired rows around until they are purged.
type Backend struct {
	Kind    string
	Store   domain.Store
	Scanner domain.Scanner
	Purger  interface {
		PurgeExpired(ctx context.Context) (int64, error)
	}

	closers []func()
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open connects to the configured backend. recorder may be nil.
func Open(ctx context.Context, cfg Config, clock clockwork.Clock, recorder Recorder) (*Backend, error) {
	switch cfg.Kind {
	case config.StoreRedis:
		return openRedis(ctx, cfg, recorder)
	case config.StorePostgres:
		return openPostgres(ctx, cfg, clock, recorder)
	case config.StoreMemory:
		store := memory.NewStore(clock)
		stop := store.StartEvictionTimer(memoryEvictionInterval)
		slog.Warn("Using in-memory store; state is lost on restart and not shared between instances")
		return &Backend{Kind: cfg.Kind, Store: store, Scanner: store, closers: []func(){stop}}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}

func openRedis(ctx context.Context, cfg Config, recorder Recorder) (*Backend, error) {
	var hooks []goredis.Hook
	if recorder != nil {
		hooks = append(hooks, redis.NewMetricsHook(recorder))
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL, hooks...)
	if err != nil {
		return nil, err
	}

	store := redis.NewStore(client)
	return &Backend{
		Kind:    cfg.Kind,
		Store:   store,
		Scanner: store,
		closers: []func(){func() { _ = client.Close() }},
	}, nil
}

func openPostgres(ctx context.Context, cfg Config, clock clockwork.Clock, recorder Recorder) (*Backend, error) {
	var tracer pgx.QueryTracer
	if recorder != nil {
		tracer = postgres.NewMetricsTracer(recorder)
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if _, err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store := postgres.NewStore(pool, clock)
	return &Backend{
		Kind:    cfg.Kind,
		Store:   store,
		Scanner: store,
		Purger:  store,
		closers: []func(){pool.Close},
	}, nil
}
