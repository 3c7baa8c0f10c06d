package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/svglol/better-clips/internal/domain"
)

// LeaderElector implements store-based leader election using SETNX with TTL.
// Used to ensure only one instance runs store maintenance at a time.
type LeaderElector struct {
	store      domain.Store
	instanceID string
	lockKey    string
	lockTTL    time.Duration
}

// NewLeaderElector creates a leader election coordinator.
// instanceID should be unique per instance (e.g., hostname-PID).
func NewLeaderElector(store domain.Store, instanceID string, lockTTL time.Duration) *LeaderElector {
	return &LeaderElector{
		store:      store,
		instanceID: instanceID,
		lockKey:    "maintenance:leader",
		lockTTL:    lockTTL,
	}
}

// TryAcquire attempts to become or stay the leader, extending the lease when
// this instance already holds it.
func (l *LeaderElector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.lockKey, []byte(l.instanceID), l.lockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := l.store.Get(ctx, l.lockKey)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check leader: %w", err)
	}
	if string(current) != l.instanceID {
		return false, nil
	}

	if err := l.store.Set(ctx, l.lockKey, []byte(l.instanceID), l.lockTTL); err != nil {
		return false, fmt.Errorf("failed to renew leader lock: %w", err)
	}
	return true, nil
}

// Release voluntarily releases leadership.
// Should be called on graceful shutdown.
func (l *LeaderElector) Release(ctx context.Context) error {
	// Delete only if we're still the leader (avoid deleting another instance's lock)
	_, err := l.store.CompareAndDelete(ctx, l.lockKey, []byte(l.instanceID))
	return err
}
