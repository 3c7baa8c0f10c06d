package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/cache"
	"github.com/svglol/better-clips/internal/coordination"
	"github.com/svglol/better-clips/internal/domain"
)

type UserTokens struct {
	sessions  domain.SessionRepository
	exchanger domain.TokenExchanger
	lock      *coordination.RefreshLock
	probes    *cache.Loader[domain.TokenValidation]
	clock     clockwork.Clock
	recorder  Recorder
}

type UserTokensConfig struct {
	ValidationTTL time.Duration
	CacheRecorder cache.Recorder
	Recorder      Recorder
}

func NewUserTokens(
	store domain.Store,
	sessions domain.SessionRepository,
	exchanger domain.TokenExchanger,
	lock *coordination.RefreshLock,
	clock clockwork.Clock,
	cfg UserTokensConfig,
) *UserTokens {
	return &UserTokens{
		sessions:  sessions,
		exchanger: exchanger,
		lock:      lock,
		probes: cache.New(store, clock, cache.Options[domain.TokenValidation]{
			Name:     "token_validation",
			TTL:      cfg.ValidationTTL,
			Recorder: cfg.CacheRecorder,
		}),
		clock:    clock,
		recorder: orNoop(cfg.Recorder),
	}
}

// Token returns a usable credential for userID.
//
// Errors: domain.ErrUnauthenticated when there is no session or the refresh
// failed (the session is cleared in that case), domain.ErrRefreshTimeout when
// another request held the refresh lock past the wait budget.
func (u *UserTokens) Token(ctx context.Context, userID string) (domain.Credential, error) {
	sess, err := u.session(ctx, userID)
	if err != nil {
		return domain.Credential{}, err
	}

	if !sess.Credential.Expired(u.clock.Now(), 0) && u.valid(ctx, sess.Credential.AccessToken) {
		return sess.Credential, nil
	}

	return u.refresh(ctx, userID, sess.Credential)
}

func (u *UserTokens) session(ctx context.Context, userID string) (*domain.Session, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	sess, err := u.sessions.Get(ctx, userID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// valid runs the introspection probe. A probe that cannot reach Twitch does not
// invalidate a token that our own clock still considers live.
func (u *UserTokens) valid(ctx context.Context, accessToken string) bool {
	v, err := u.probes.Get(ctx, Hash(accessToken), func(ctx context.Context) (domain.TokenValidation, error) {
		return u.exchanger.Validate(ctx, accessToken)
	})
	if err != nil {
		slog.WarnContext(ctx, "Token validation probe failed, using token as-is", "error", err)
		return true
	}
	return v.Valid
}

func (u *UserTokens) refresh(ctx context.Context, userID string, stale domain.Credential) (domain.Credential, error) {
	lease, acquired, err := u.lock.TryAcquire(ctx, userID)
	if err != nil {
		return domain.Credential{}, err
	}
	if !acquired {
		return u.awaitRefresh(ctx, userID)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "Failed to release refresh lock", "user_id", userID, "error", err)
		}
	}()

	// Another request may have completed a refresh between our read and the acquire.
	sess, err := u.session(ctx, userID)
	if err != nil {
		return domain.Credential{}, err
	}
	now := u.clock.Now()
	if sess.Credential.AccessToken != stale.AccessToken && !sess.Credential.Expired(now, 0) {
		return sess.Credential, nil
	}

	if sess.Credential.RefreshToken == "" {
		return domain.Credential{}, u.clear(ctx, userID, errors.New("session has no refresh token"))
	}

	grant, err := u.exchanger.RefreshToken(ctx, sess.Credential.RefreshToken)
	if err != nil {
		u.recorder.Exchanged(kindRefreshToken, outcomeFailure)
		return domain.Credential{}, u.clear(ctx, userID, err)
	}
	u.recorder.Exchanged(kindRefreshToken, outcomeSuccess)

	cred := grant.Credential(now)
	if cred.RefreshToken == "" {
		cred.RefreshToken = sess.Credential.RefreshToken
	}
	sess.Credential = cred
	if err := u.sessions.Save(ctx, *sess); err != nil {
		return domain.Credential{}, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	slog.InfoContext(ctx, "User token refreshed", "user_id", userID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

func (u *UserTokens) awaitRefresh(ctx context.Context, userID string) (domain.Credential, error) {
	if err := u.lock.Wait(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrRefreshTimeout) {
			u.recorder.LockWaited("timeout")
			slog.WarnContext(ctx, "Gave up waiting for token refresh", "user_id", userID)
		}
		return domain.Credential{}, err
	}
	u.recorder.LockWaited("released")

	sess, err := u.session(ctx, userID)
	if err != nil {
		return domain.Credential{}, err
	}
	return sess.Credential, nil
}

func (u *UserTokens) clear(ctx context.Context, userID string, cause error) error {
	slog.WarnContext(ctx, "Token refresh failed, clearing session", "user_id", userID, "error", cause)
	if err := u.sessions.Delete(ctx, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to clear session", "user_id", userID, "error", err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnauthenticated, cause)
}
