package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/svglol/better-clips/internal/adapter/backend"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/session"
)

func sessionsCmd(flags *globalFlags, clock clockwork.Clock) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean up stored sessions",
	}
	cmd.AddCommand(pruneCmd(flags, clock))
	return cmd
}

func pruneCmd(flags *globalFlags, clock clockwork.Clock) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions whose credential expired and cannot be refreshed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			b, err := backend.Open(ctx, backend.Config{
				Kind:        flags.backend,
				RedisURL:    flags.redisURL,
				DatabaseURL: flags.databaseURL,
			}, clock, nil)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer b.Close()

			result, err := pruneSessions(ctx, b.Scanner, b.Store, clock.Now(), dryRun)
			if err != nil {
				return err
			}

			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			cmd.Printf("scanned %d sessions, %s %d, skipped %d unreadable\n", result.Scanned, verb, result.Stale, result.Invalid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	return cmd
}

type pruneResult struct {
	Scanned int
	Stale   int
	Invalid int
}

// pruneSessions removes session records that can never authenticate again: the
// access token has expired and there is no refresh token to renew it.
func pruneSessions(ctx context.Context, scanner domain.Scanner, store domain.Store, now time.Time, dryRun bool) (pruneResult, error) {
	var result pruneResult
	start := time.Now()

	err := scanner.Scan(ctx, session.KeyPrefix, func(key string, value []byte) error {
		result.Scanned++

		var s domain.Session
		if err := json.Unmarshal(value, &s); err != nil {
			slog.Warn("Unreadable session record", "key", key, "error", err)
			result.Invalid++
			return nil
		}
		if !stale(s, now) {
			return nil
		}

		result.Stale++
		slog.Debug("Stale session", "key", key, "expired_at", s.Credential.ExpiresAt.Format(time.RFC3339), "dry_run", dryRun)
		if dryRun {
			return nil
		}
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan failed: %w", err)
	}

	slog.Info("Prune summary",
		"scanned", result.Scanned,
		"stale", result.Stale,
		"invalid", result.Invalid,
		"dry_run", dryRun,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func stale(s domain.Session, now time.Time) bool {
	return s.Credential.RefreshToken == "" && s.Credential.Expired(now, 0)
}
