package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/domain"
)

const (
	getQuery = `SELECT value FROM kv_store
WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`

	setQuery = `INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	// An expired row is taken over as if it were absent.
	setNXQuery = `INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
WHERE kv_store.expires_at IS NOT NULL AND kv_store.expires_at <= $4`

	deleteQuery = `DELETE FROM kv_store WHERE key = $1`

	compareAndDeleteQuery = `DELETE FROM kv_store
WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > $3)`

	scanQuery = `SELECT key, value FROM kv_store
WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > $2)
ORDER BY key`

	purgeQuery = `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// Store keeps every record in a single kv_store table. Expiry is evaluated on
// read against the injected clock; PurgeExpired reclaims the dead rows.
type Store struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Scanner = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool, clock clockwork.Clock) *Store {
	return &Store{pool: pool, clock: clock}
}

type entry struct {
	Key   string
	Value []byte
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, getQuery, key, s.clock.Now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.pool.Exec(ctx, setQuery, key, value, s.expiresAt(ttl)); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, setNXQuery, key, value, s.expiresAt(ttl), s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("postgres setnx %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, compareAndDeleteQuery, key, expected, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("postgres compare-and-delete %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Scan materializes the matching rows before calling fn, so fn may write to the store.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := s.pool.Query(ctx, scanQuery, likePrefix(prefix), s.clock.Now())
	if err != nil {
		return fmt.Errorf("postgres scan %s: %w", prefix, err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entry])
	if err != nil {
		return fmt.Errorf("postgres scan %s: %w", prefix, err)
	}

	for _, e := range entries {
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and reports how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, purgeQuery, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) expiresAt(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.clock.Now().Add(ttl)
	return &t
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
