package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/svglol/better-clips/internal/domain"
)

const appTokenKey = "app_token"

// AppTokens hands out the client-credentials token used for calls made without
// a user. Exchanges within one process are deduplicated; concurrent exchanges
// across instances are harmless since every issued app token is valid.
type AppTokens struct {
	store     domain.Store
	exchanger domain.TokenExchanger
	clock     clockwork.Clock
	skew      time.Duration
	recorder  Recorder
	group     singleflight.Group
}

func NewAppTokens(store domain.Store, exchanger domain.TokenExchanger, clock clockwork.Clock, skew time.Duration, recorder Recorder) *AppTokens {
	return &AppTokens{
		store:     store,
		exchanger: exchanger,
		clock:     clock,
		skew:      skew,
		recorder:  orNoop(recorder),
	}
}

// Token returns a valid app access token, exchanging client credentials when the
// stored one is missing or about to expire. Exchange failures are returned as-is.
func (a *AppTokens) Token(ctx context.Context) (string, error) {
	if cred, ok := a.stored(ctx); ok {
		return cred.AccessToken, nil
	}

	result, err, _ := a.group.Do(appTokenKey, func() (any, error) {
		if cred, ok := a.stored(ctx); ok {
			return cred.AccessToken, nil
		}
		return a.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate forgets the stored token, e.g. after Twitch rejected it.
func (a *AppTokens) Invalidate(ctx context.Context) error {
	if err := a.store.Delete(ctx, appTokenKey); err != nil {
		return fmt.Errorf("failed to invalidate app token: %w", err)
	}
	return nil
}

func (a *AppTokens) stored(ctx context.Context) (domain.Credential, bool) {
	raw, err := a.store.Get(ctx, appTokenKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "App token read failed", "error", err)
		}
		return domain.Credential{}, false
	}

	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		slog.WarnContext(ctx, "Failed to decode stored app token", "error", err)
		return domain.Credential{}, false
	}
	if cred.Expired(a.clock.Now(), a.skew) {
		return domain.Credential{}, false
	}
	return cred, true
}

func (a *AppTokens) exchange(ctx context.Context) (string, error) {
	grant, err := a.exchanger.ClientCredentials(ctx)
	if err != nil {
		a.recorder.Exchanged(kindClientCredentials, outcomeFailure)
		return "", fmt.Errorf("client credentials exchange failed: %w", err)
	}
	a.recorder.Exchanged(kindClientCredentials, outcomeSuccess)

	now := a.clock.Now()
	cred := grant.Credential(now)

	encoded, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("failed to encode app token: %w", err)
	}
	if err := a.store.Set(ctx, appTokenKey, encoded, cred.ExpiresAt.Sub(now)); err != nil {
		slog.WarnContext(ctx, "Failed to persist app token", "error", err)
	}

	slog.InfoContext(ctx, "App token issued", "expires_at", cred.ExpiresAt)
	return cred.AccessToken, nil
}
