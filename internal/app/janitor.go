package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/platform/correlation"
)

// Purger deletes expired records from stores without native expiry.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Janitor periodically purges expired store records. Only the elected leader
// purges; the other instances just keep trying to take over.
type Janitor struct {
	leader   *LeaderElector
	purger   Purger
	clock    clockwork.Clock
	interval time.Duration
}

func NewJanitor(leader *LeaderElector, purger Purger, clock clockwork.Clock, interval time.Duration) *Janitor {
	return &Janitor{
		leader:   leader,
		purger:   purger,
		clock:    clock,
		interval: interval,
	}
}

// Run starts the purge loop. It blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	defer func() {
		if err := j.leader.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release leader lock", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.tick(correlation.WithID(ctx, correlation.NewID()))
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	leader, err := j.leader.TryAcquire(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Janitor: leader election failed", "error", err)
		return
	}
	if !leader {
		return
	}

	purged, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Janitor: purge failed", "error", err)
		return
	}
	if purged > 0 {
		slog.InfoContext(ctx, "Janitor: purged expired records", "count", purged)
	}
}
