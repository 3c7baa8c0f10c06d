// Package coordination serializes token refreshes across requests and instances.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/domain"
)

// WaitPolicy bounds how long a request waits on someone else's lease. The poll
// interval doubles after every attempt up to MaxInterval.
type WaitPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

// Budget is the total time Wait sleeps before giving up.
func (p WaitPolicy) Budget() time.Duration {
	var total time.Duration
	interval := p.Interval
	for range p.MaxAttempts {
		total += interval
		interval = p.next(interval)
	}
	return total
}

func (p WaitPolicy) next(interval time.Duration) time.Duration {
	interval *= 2
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		return p.MaxInterval
	}
	return interval
}

// RefreshLock is a per-user lease record. The holder writes a random owner token
// with SetNX; the TTL bounds staleness if the holder dies without releasing.
type RefreshLock struct {
	store domain.Store
	clock clockwork.Clock
	ttl   time.Duration
	wait  WaitPolicy
}

func NewRefreshLock(store domain.Store, clock clockwork.Clock, ttl time.Duration, wait WaitPolicy) *RefreshLock {
	return &RefreshLock{
		store: store,
		clock: clock,
		ttl:   ttl,
		wait:  wait,
	}
}

// Lease is a held lock. Release only removes the record while it is still ours.
type Lease struct {
	store domain.Store
	key   string
	owner []byte
}

// TryAcquire takes the lock for userID if nobody holds it.
func (l *RefreshLock) TryAcquire(ctx context.Context, userID string) (*Lease, bool, error) {
	key := lockKey(userID)
	owner := []byte(uuid.NewString())

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: l.store, key: key, owner: owner}, true, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("failed to release refresh lock: %w", err)
	}
	return nil
}

func (l *RefreshLock) Held(ctx context.Context, userID string) (bool, error) {
	_, err := l.store.Get(ctx, lockKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read refresh lock: %w", err)
	}
	return true, nil
}

// Wait blocks until the lock for userID is released. It returns
// domain.ErrRefreshTimeout once the attempt budget is exhausted.
func (l *RefreshLock) Wait(ctx context.Context, userID string) error {
	interval := l.wait.Interval

	for range l.wait.MaxAttempts {
		select {
		case <-l.clock.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("waiting for refresh lock: %w", ctx.Err())
		}

		held, err := l.Held(ctx, userID)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		interval = l.wait.next(interval)
	}

	return domain.ErrRefreshTimeout
}

func lockKey(userID string) string {
	return "refresh_lock:" + userID
}
