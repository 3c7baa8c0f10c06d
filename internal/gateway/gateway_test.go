package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svglol/better-clips/internal/adapter/memory"
	"github.com/svglol/better-clips/internal/adapter/twitch"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/retry"
)

type upstreamCall struct {
	endpoint string
	query    url.Values
	token    string
}

type mockUpstream struct {
	mu    sync.Mutex
	calls []upstreamCall
	getFn func(endpoint string, query url.Values, token string) ([]byte, error)
}

func (m *mockUpstream) Get(_ context.Context, endpoint string, query url.Values, token string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, upstreamCall{endpoint, query, token})
	m.mu.Unlock()
	return m.getFn(endpoint, query, token)
}

func (m *mockUpstream) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockApp struct {
	token       string
	err         error
	invalidated int
}

func (m *mockApp) Token(context.Context) (string, error) { return m.token, m.err }

func (m *mockApp) Invalidate(context.Context) error {
	m.invalidated++
	return nil
}

type mockUsers struct {
	tokenFn func(userID string) (domain.Credential, error)
}

func (m *mockUsers) Token(_ context.Context, userID string) (domain.Credential, error) {
	if m.tokenFn == nil {
		return domain.Credential{}, domain.ErrUnauthenticated
	}
	return m.tokenFn(userID)
}

type clip struct {
	ID string `json:"id"`
}

func respond(body string) func(string, url.Values, string) ([]byte, error) {
	return func(string, url.Values, string) ([]byte, error) { return []byte(body), nil }
}

func status(code int) func(string, url.Values, string) ([]byte, error) {
	return func(string, url.Values, string) ([]byte, error) {
		return nil, &twitch.StatusError{StatusCode: code}
	}
}

type fixture struct {
	clock    clockwork.Clock
	upstream *mockUpstream
	app      *mockApp
	users    *mockUsers
	gw       *Gateway
}

func newFixture(clock clockwork.Clock, policy retry.Policy) *fixture {
	f := &fixture{
		clock:    clock,
		upstream: &mockUpstream{getFn: respond(`{"data":[{"id":"a"},{"id":"b"}],"pagination":{"cursor":"next"}}`)},
		app:      &mockApp{token: "app-token"},
		users:    &mockUsers{},
	}
	f.gw = New(memory.NewStore(clock), clock, f.upstream, f.app, f.users, Config{
		CacheTTL:   5 * time.Minute,
		FailureTTL: 10 * time.Second,
		Retry:      policy,
	})
	return f
}

var noRetry = retry.Policy{MaxAttempts: 1}

func TestCall_DecodesPage(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)

	resp, err := Call[clip](context.Background(), f.gw, "clips", url.Values{"broadcaster_id": {"1"}})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, []clip{{"a"}, {"b"}}, resp.Data)
	assert.Equal(t, "next", resp.Pagination.Cursor)
	assert.Equal(t, "app-token", f.upstream.calls[0].token)
}

func TestCall_CachesPerEndpointQueryAndIdentity(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	f.users.tokenFn = func(id string) (domain.Credential, error) {
		return domain.Credential{AccessToken: "user-" + id}, nil
	}
	ctx := context.Background()
	q := url.Values{"broadcaster_id": {"1"}, "first": {"100"}}

	_, err := Call[clip](ctx, f.gw, "clips", q)
	require.NoError(t, err)
	_, err = Call[clip](ctx, f.gw, "clips", url.Values{"first": {"100"}, "broadcaster_id": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.upstream.count(), "query order does not change the key")

	_, err = Call[clip](ctx, f.gw, "clips", q, WithUser("42"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.upstream.count(), "user identity is cached separately")

	_, err = Call[clip](ctx, f.gw, "clips", url.Values{"broadcaster_id": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, 3, f.upstream.count())
}

func TestCall_CacheExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFixture(clock, noRetry)
	ctx := context.Background()

	_, err := Call[clip](ctx, f.gw, "games/top", nil)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = Call[clip](ctx, f.gw, "games/top", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.upstream.count())
}

func TestCall_WithoutCacheAlwaysCallsUpstream(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)

	for range 3 {
		_, err := Call[clip](context.Background(), f.gw, "clips", nil, WithoutCache())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.upstream.count())
}

func TestCall_FailureIsSentinelAndNotServedFromCache(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	f.upstream.getFn = status(http.StatusBadGateway)
	ctx := context.Background()

	resp, err := Call[clip](ctx, f.gw, "clips", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Data)

	f.upstream.getFn = respond(`{"data":[{"id":"a"}]}`)
	resp, err = Call[clip](ctx, f.gw, "clips", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, 2, f.upstream.count())
}

func TestCall_NetworkAndDecodeFailuresAreSentinels(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	ctx := context.Background()

	f.upstream.getFn = func(string, url.Values, string) ([]byte, error) { return nil, errors.New("connection refused") }
	resp, err := Call[clip](ctx, f.gw, "clips", url.Values{"id": {"1"}})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	f.upstream.getFn = respond(`not json`)
	resp, err = Call[clip](ctx, f.gw, "clips", url.Values{"id": {"2"}})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	f.upstream.getFn = respond(`{"data":"not an array"}`)
	resp, err = Call[clip](ctx, f.gw, "clips", url.Values{"id": {"3"}})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestCall_EmptyDataIsSuccess(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	f.upstream.getFn = respond(`{"data":[],"pagination":{}}`)

	resp, err := Call[clip](context.Background(), f.gw, "clips", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Data)
}

func TestCall_TokenResolution(t *testing.T) {
	t.Run("explicit token wins", func(t *testing.T) {
		f := newFixture(clockwork.NewFakeClock(), noRetry)
		_, err := Call[clip](context.Background(), f.gw, "users", nil, WithToken("explicit"), WithUser("42"))
		require.NoError(t, err)
		assert.Equal(t, "explicit", f.upstream.calls[0].token)
	})

	t.Run("unauthenticated user falls back to app token", func(t *testing.T) {
		f := newFixture(clockwork.NewFakeClock(), noRetry)
		_, err := Call[clip](context.Background(), f.gw, "users", nil, WithUser("42"))
		require.NoError(t, err)
		assert.Equal(t, "app-token", f.upstream.calls[0].token)
	})

	t.Run("refresh timeout is fatal", func(t *testing.T) {
		f := newFixture(clockwork.NewFakeClock(), noRetry)
		f.users.tokenFn = func(string) (domain.Credential, error) { return domain.Credential{}, domain.ErrRefreshTimeout }

		_, err := Call[clip](context.Background(), f.gw, "users", nil, WithUser("42"))
		require.ErrorIs(t, err, domain.ErrRefreshTimeout)
		assert.Zero(t, f.upstream.count())
	})

	t.Run("app token failure is fatal", func(t *testing.T) {
		f := newFixture(clockwork.NewFakeClock(), noRetry)
		f.app.err = errors.New("invalid client")

		_, err := Call[clip](context.Background(), f.gw, "users", nil)
		require.Error(t, err)
		assert.Zero(t, f.upstream.count())
	})
}

func TestCall_UnauthorizedAppTokenIsInvalidated(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	f.upstream.getFn = status(http.StatusUnauthorized)

	resp, err := Call[clip](context.Background(), f.gw, "clips", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, f.app.invalidated)

	_, err = Call[clip](context.Background(), f.gw, "clips", nil, WithToken("explicit"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.app.invalidated, "explicit tokens do not touch the app token")
}

func TestCall_RetriesTransientFailures(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(clockwork.NewRealClock(), retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   100 * time.Millisecond,
			RateLimitBackoff: time.Second,
		})
		attempts := 0
		f.upstream.getFn = func(string, url.Values, string) ([]byte, error) {
			attempts++
			switch attempts {
			case 1:
				return nil, &twitch.StatusError{StatusCode: http.StatusTooManyRequests}
			case 2:
				return nil, &twitch.StatusError{StatusCode: http.StatusServiceUnavailable}
			default:
				return []byte(`{"data":[{"id":"a"}]}`), nil
			}
		}

		start := time.Now()
		resp, err := Call[clip](context.Background(), f.gw, "clips", nil)
		require.NoError(t, err)

		assert.True(t, resp.Success)
		assert.Equal(t, 3, attempts)
		// 1s rate limit backoff, then 200ms doubled backoff.
		assert.Equal(t, 1200*time.Millisecond, time.Since(start))
	})
}

func TestCall_ClientErrorsAreNotRetried(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), retry.Policy{MaxAttempts: 3, InitialBackoff: time.Hour})
	f.upstream.getFn = status(http.StatusBadRequest)

	resp, err := Call[clip](context.Background(), f.gw, "clips", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, f.upstream.count())
}

func TestCall_OpenBreakerSkipsUpstream(t *testing.T) {
	f := newFixture(clockwork.NewFakeClock(), noRetry)
	f.upstream.getFn = status(http.StatusInternalServerError)
	ctx := context.Background()

	for i := range 5 {
		_, err := Call[clip](ctx, f.gw, "clips", url.Values{"id": {string(rune('a' + i))}}, WithoutCache())
		require.NoError(t, err)
	}
	require.Equal(t, 5, f.upstream.count())

	f.upstream.getFn = respond(`{"data":[{"id":"a"}]}`)
	resp, err := Call[clip](ctx, f.gw, "clips", nil, WithoutCache())
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, 5, f.upstream.count(), "open breaker must not call upstream")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"rate limited", &twitch.StatusError{StatusCode: 429}, retry.After},
		{"server error", &twitch.StatusError{StatusCode: 503}, retry.Retry},
		{"not found", &twitch.StatusError{StatusCode: 404}, retry.Stop},
		{"unauthorized", &twitch.StatusError{StatusCode: 401}, retry.Stop},
		{"network", errors.New("connection reset"), retry.Retry},
		{"cancelled", context.Canceled, retry.Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
