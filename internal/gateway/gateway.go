// Package gateway is the single path through which Helix is called. It picks the
// token to send, caches successful responses per endpoint, query and token
// identity, and turns every upstream failure into a Success=false sentinel so
// that one broken call never fails a whole aggregation.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/adapter/twitch"
	"github.com/svglol/better-clips/internal/cache"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/retry"
	"github.com/svglol/better-clips/internal/token"
)

const (
	outcomeSuccess     = "success"
	outcomeError       = "error"
	outcomeBreakerOpen = "breaker_open"

	identityApp = "app"
)

// Upstream performs one raw Helix GET. Non-2xx answers are *twitch.StatusError.
type Upstream interface {
	Get(ctx context.Context, endpoint string, query url.Values, token string) ([]byte, error)
}

type AppTokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

type UserTokenSource interface {
	Token(ctx context.Context, userID string) (domain.Credential, error)
}

// Recorder receives upstream call events. *metrics.UpstreamMetrics satisfies it.
type Recorder interface {
	ObserveRequest(endpoint, outcome string, d time.Duration)
	BreakerStateChanged(state float64)
}

type Config struct {
	CacheTTL   time.Duration
	FailureTTL time.Duration
	Retry      retry.Policy

	Recorder      Recorder
	CacheRecorder cache.Recorder
}

type Gateway struct {
	upstream Upstream
	app      AppTokenSource
	users    UserTokenSource
	clock    clockwork.Clock
	cache    *cache.Loader[envelope]
	retry    retry.Policy
	breaker  circuitbreaker.CircuitBreaker[any]
	recorder Recorder
}

func New(store domain.Store, clock clockwork.Clock, upstream Upstream, app AppTokenSource, users UserTokenSource, cfg Config) *Gateway {
	g := &Gateway{
		upstream: upstream,
		app:      app,
		users:    users,
		clock:    clock,
		retry:    cfg.Retry,
		recorder: cfg.Recorder,
	}
	if g.retry.MaxAttempts < 1 {
		g.retry.MaxAttempts = 1
	}
	if g.retry.Clock == nil {
		g.retry.Clock = clock
	}

	g.cache = cache.New(store, clock, cache.Options[envelope]{
		Name:         "helix",
		TTL:          cfg.CacheTTL,
		Failed:       func(e envelope) bool { return !e.Success },
		FailureTTL:   cfg.FailureTTL,
		BypassFailed: true,
		Recorder:     cfg.CacheRecorder,
	})

	// 60% failures over at least 5 calls in 10s opens the breaker for 30s.
	g.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "twitch",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if g.recorder != nil {
				g.recorder.BreakerStateChanged(stateToFloat(e.NewState))
			}
		}).
		Build()

	return g
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

type callOptions struct {
	token   string
	userID  string
	noCache bool
}

type CallOption func(*callOptions)

// WithToken sends an explicit access token, e.g. during the OAuth callback before
// a session exists.
func WithToken(accessToken string) CallOption {
	return func(o *callOptions) { o.token = accessToken }
}

// WithUser sends userID's token, falling back to the app token when the user has
// no usable session.
func WithUser(userID string) CallOption {
	return func(o *callOptions) { o.userID = userID }
}

// WithoutCache skips the response cache for callers that cache at a higher level.
func WithoutCache() CallOption {
	return func(o *callOptions) { o.noCache = true }
}

// Call fetches endpoint and decodes its data array into T. Upstream failures
// yield Success=false with no error. Errors are returned only when no token could
// be obtained: domain.ErrRefreshTimeout or an app token exchange failure.
func Call[T any](ctx context.Context, g *Gateway, endpoint string, query url.Values, opts ...CallOption) (Response[T], error) {
	env, err := g.fetch(ctx, endpoint, query, opts)
	if err != nil {
		return Response[T]{}, err
	}
	if !env.Success {
		return failed[T](), nil
	}

	resp := Response[T]{
		Pagination: env.Pagination,
		Total:      env.Total,
		Success:    true,
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &resp.Data); err != nil {
			slog.ErrorContext(ctx, "Failed to decode Helix data", "endpoint", endpoint, "error", err)
			return failed[T](), nil
		}
	}
	return resp, nil
}

func (g *Gateway) fetch(ctx context.Context, endpoint string, query url.Values, opts []CallOption) (envelope, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	accessToken, identity, err := g.resolve(ctx, o)
	if err != nil {
		return envelope{}, err
	}

	load := func(ctx context.Context) (envelope, error) {
		return g.request(ctx, endpoint, query, accessToken, identity), nil
	}
	if o.noCache {
		return load(ctx)
	}
	return g.cache.Get(ctx, cacheKey(endpoint, query, identity), load)
}

func (g *Gateway) resolve(ctx context.Context, o callOptions) (accessToken, identity string, err error) {
	if o.token != "" {
		return o.token, "token:" + token.Hash(o.token), nil
	}

	if o.userID != "" {
		cred, err := g.users.Token(ctx, o.userID)
		switch {
		case err == nil:
			return cred.AccessToken, "user:" + o.userID, nil
		case !errors.Is(err, domain.ErrUnauthenticated):
			return "", "", err
		}
	}

	appToken, err := g.app.Token(ctx)
	if err != nil {
		return "", "", fmt.Errorf("app token unavailable: %w", err)
	}
	return appToken, identityApp, nil
}

func (g *Gateway) request(ctx context.Context, endpoint string, query url.Values, accessToken, identity string) envelope {
	if !g.breaker.TryAcquirePermit() {
		slog.WarnContext(ctx, "Twitch circuit breaker open, skipping call", "endpoint", endpoint)
		g.observe(endpoint, outcomeBreakerOpen, 0)
		return envelope{}
	}

	start := g.clock.Now()
	policy := g.retry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "Retrying Helix call", "endpoint", endpoint, "attempt", attempt, "backoff", backoff, "error", err)
	}
	body, err := retry.Do(ctx, policy, classify, func(ctx context.Context) ([]byte, error) {
		return g.upstream.Get(ctx, endpoint, query, accessToken)
	})
	elapsed := g.clock.Since(start)

	if err != nil {
		g.recordBreaker(err)
		g.observe(endpoint, outcomeError, elapsed)
		slog.ErrorContext(ctx, "Helix call failed", "endpoint", endpoint, "error", err)

		if statusErr, ok := errors.AsType[*twitch.StatusError](err); ok && statusErr.StatusCode == http.StatusUnauthorized && identity == identityApp {
			if err := g.app.Invalidate(context.WithoutCancel(ctx)); err != nil {
				slog.ErrorContext(ctx, "Failed to invalidate rejected app token", "error", err)
			}
		}
		return envelope{}
	}
	g.breaker.RecordSuccess()

	var page struct {
		Data       json.RawMessage `json:"data"`
		Pagination Pagination      `json:"pagination"`
		Total      int             `json:"total"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		g.observe(endpoint, outcomeError, elapsed)
		slog.ErrorContext(ctx, "Failed to decode Helix response", "endpoint", endpoint, "error", err)
		return envelope{}
	}

	g.observe(endpoint, outcomeSuccess, elapsed)
	return envelope{
		Data:       page.Data,
		Pagination: page.Pagination,
		Total:      page.Total,
		Success:    true,
	}
}

// recordBreaker counts only failures that say something about Twitch's health.
func (g *Gateway) recordBreaker(err error) {
	if classify(err) == retry.Stop {
		g.breaker.RecordSuccess()
		return
	}
	g.breaker.RecordError(err)
}

func (g *Gateway) observe(endpoint, outcome string, d time.Duration) {
	if g.recorder != nil {
		g.recorder.ObserveRequest(endpoint, outcome, d)
	}
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	statusErr, ok := errors.AsType[*twitch.StatusError](err)
	if !ok {
		return retry.Retry
	}
	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case statusErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

func cacheKey(endpoint string, query url.Values, identity string) string {
	sum := sha256.Sum256([]byte(endpoint + "?" + query.Encode() + "|" + identity))
	return hex.EncodeToString(sum[:])
}
