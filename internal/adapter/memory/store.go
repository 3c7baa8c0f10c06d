// Package memory provides an in-process domain.Store for development and tests.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/domain"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store keeps values in a map guarded by an RWMutex. Expired entries read as
// absent and are removed by EvictExpired.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clockwork.Clock
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Scanner = (*Store)(nil)
)

func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock.Now()) {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.newEntry(value, ttl)
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(s.clock.Now()) {
		return false, nil
	}
	s.entries[key] = s.newEntry(value, ttl)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock.Now()) || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Scan calls fn for every live key starting with prefix. fn may modify the store.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	type kv struct {
		key   string
		value []byte
	}

	s.mu.RLock()
	now := s.clock.Now()
	var matches []kv
	for key, e := range s.entries {
		if strings.HasPrefix(key, prefix) && !e.expired(now) {
			matches = append(matches, kv{key, bytes.Clone(e.value)})
		}
	}
	s.mu.RUnlock()

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m.key, m.value); err != nil {
			return err
		}
	}
	return nil
}

// EvictExpired drops expired entries and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	evicted := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

// StartEvictionTimer runs EvictExpired periodically. Returns a stop function that should be deferred.
func (s *Store) StartEvictionTimer(interval time.Duration) func() {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := s.EvictExpired(); evicted > 0 {
					slog.Debug("Evicted expired store entries", "count", evicted)
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

func (s *Store) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	return e
}
