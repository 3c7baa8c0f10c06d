// Package session stores signed-in users' records server-side. The browser
// cookie only carries the user id.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/svglol/better-clips/internal/domain"
)

type Repository struct {
	store  domain.Store
	maxAge time.Duration
}

var _ domain.SessionRepository = (*Repository)(nil)

func NewRepository(store domain.Store, maxAge time.Duration) *Repository {
	return &Repository{store: store, maxAge: maxAge}
}

func (r *Repository) Get(ctx context.Context, userID string) (*domain.Session, error) {
	raw, err := r.store.Get(ctx, sessionKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (r *Repository) Save(ctx context.Context, s domain.Session) error {
	if s.User.ID == "" {
		return errors.New("session has no user id")
	}

	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.store.Set(ctx, sessionKey(s.User.ID), encoded, r.maxAge); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, sessionKey(userID)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// KeyPrefix is the store prefix shared by all session records.
const KeyPrefix = "session:"

func sessionKey(userID string) string {
	return KeyPrefix + userID
}
