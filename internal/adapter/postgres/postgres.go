// Package postgres implements domain.Store on a single PostgreSQL table for
// deployments that prefer a durable database over Redis.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// advisory lock key for schema changes: "clips" in ASCII
	migrationLockID    = 0x636c697073
	versionTable       = "public.schema_version"
	lockReleaseTimeout = 5 * time.Second
	poolMaxIdleTime    = 5 * time.Minute
)

// Connect opens a pool and verifies it with a ping. tracer may be nil.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.MaxConnIdleTime = poolMaxIdleTime
	poolCfg.ConnConfig.Tracer = tracer

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"sslmode", sslMode(databaseURL),
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := strings.ToLower(u.Query().Get("sslmode")); mode != "" {
		return mode
	}
	return "prefer (default)"
}

// MigrationResult reports the schema version before and after Migrate.
type MigrationResult struct {
	From int32
	To   int32
}

// Migrate applies pending migrations. Concurrent callers on other instances
// block on a session advisory lock until the first one finishes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (MigrationResult, error) {
	var result MigrationResult
	err := pool.AcquireFunc(ctx, func(conn *pgxpool.Conn) error {
		return withAdvisoryLock(ctx, conn.Conn(), migrationLockID, func() error {
			var err error
			result, err = migrateConn(ctx, conn.Conn())
			return err
		})
	})
	if err != nil {
		return result, err
	}

	if result.From != result.To {
		slog.Info("Database migrated", "from", result.From, "to", result.To)
	} else {
		slog.Debug("Database schema up to date", "version", result.To)
	}
	return result, nil
}

func migrateConn(ctx context.Context, conn *pgx.Conn) (MigrationResult, error) {
	var result MigrationResult

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return result, fmt.Errorf("failed to read migrations: %w", err)
	}
	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return result, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(sub); err != nil {
		return result, fmt.Errorf("failed to load migrations: %w", err)
	}

	if result.From, err = migrator.GetCurrentVersion(ctx); err != nil {
		return result, fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return result, fmt.Errorf("failed to migrate database: %w", err)
	}
	result.To = int32(len(migrator.Migrations))
	return result, nil
}

// withAdvisoryLock runs fn while holding a session-level advisory lock on conn.
// The unlock uses its own timeout so a cancelled ctx still releases the lock.
func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, key int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			slog.Error("Failed to release advisory lock", "key", key, "error", err)
		}
	}()
	return fn()
}
