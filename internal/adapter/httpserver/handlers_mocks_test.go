package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/svglol/better-clips/internal/adapter/memory"
	"github.com/svglol/better-clips/internal/app"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/config"
	"github.com/svglol/better-clips/internal/session"
)

// --- Mock implementations ---

type mockClips struct {
	topClipsFn      func(ctx context.Context, userID string, req clips.PageRequest) (clips.ClipPage, error)
	trendingClipsFn func(ctx context.Context, req clips.PageRequest) (clips.ClipPage, error)
}

func (m *mockClips) TopClips(ctx context.Context, userID string, req clips.PageRequest) (clips.ClipPage, error) {
	if m.topClipsFn != nil {
		return m.topClipsFn(ctx, userID, req)
	}
	return clips.Paginate(nil, req), nil
}

func (m *mockClips) TrendingClips(ctx context.Context, req clips.PageRequest) (clips.ClipPage, error) {
	if m.trendingClipsFn != nil {
		return m.trendingClipsFn(ctx, req)
	}
	return clips.Paginate(nil, req), nil
}

type mockLookups struct {
	clipsFn          func(ctx context.Context, q app.ClipsQuery) (app.Page[domain.Clip], error)
	clipFn           func(ctx context.Context, id string) (domain.Clip, error)
	gameFn           func(ctx context.Context, q app.GameQuery) (app.Page[domain.Game], error)
	searchGamesFn    func(ctx context.Context, query, first, after string) (app.Page[domain.Game], error)
	searchChannelsFn func(ctx context.Context, q app.ChannelSearch) (app.Page[domain.Channel], error)
	channelByLoginFn func(ctx context.Context, login string) (domain.TwitchUser, error)
	followedUsersFn  func(ctx context.Context, user domain.User) ([]domain.TwitchUser, error)
	viewerFn         func(ctx context.Context, accessToken string) (domain.TwitchUser, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockLookups) Clips(ctx context.Context, q app.ClipsQuery) (app.Page[domain.Clip], error) {
	if m.clipsFn != nil {
		return m.clipsFn(ctx, q)
	}
	return app.Page[domain.Clip]{}, errNotImplemented
}

func (m *mockLookups) Clip(ctx context.Context, id string) (domain.Clip, error) {
	if m.clipFn != nil {
		return m.clipFn(ctx, id)
	}
	return domain.Clip{}, errNotImplemented
}

func (m *mockLookups) Game(ctx context.Context, q app.GameQuery) (app.Page[domain.Game], error) {
	if m.gameFn != nil {
		return m.gameFn(ctx, q)
	}
	return app.Page[domain.Game]{}, errNotImplemented
}

func (m *mockLookups) SearchGames(ctx context.Context, query, first, after string) (app.Page[domain.Game], error) {
	if m.searchGamesFn != nil {
		return m.searchGamesFn(ctx, query, first, after)
	}
	return app.Page[domain.Game]{}, errNotImplemented
}

func (m *mockLookups) SearchChannels(ctx context.Context, q app.ChannelSearch) (app.Page[domain.Channel], error) {
	if m.searchChannelsFn != nil {
		return m.searchChannelsFn(ctx, q)
	}
	return app.Page[domain.Channel]{}, errNotImplemented
}

func (m *mockLookups) ChannelByLogin(ctx context.Context, login string) (domain.TwitchUser, error) {
	if m.channelByLoginFn != nil {
		return m.channelByLoginFn(ctx, login)
	}
	return domain.TwitchUser{}, errNotImplemented
}

func (m *mockLookups) FollowedUsers(ctx context.Context, user domain.User) ([]domain.TwitchUser, error) {
	if m.followedUsersFn != nil {
		return m.followedUsersFn(ctx, user)
	}
	return nil, errNotImplemented
}

func (m *mockLookups) Viewer(ctx context.Context, accessToken string) (domain.TwitchUser, error) {
	if m.viewerFn != nil {
		return m.viewerFn(ctx, accessToken)
	}
	return domain.TwitchUser{}, errNotImplemented
}

// mockTokens accepts every user that has a session record unless tokenFn says otherwise.
type mockTokens struct {
	sessions domain.SessionRepository
	tokenFn  func(ctx context.Context, userID string) (domain.Credential, error)
}

func (m *mockTokens) Token(ctx context.Context, userID string) (domain.Credential, error) {
	if m.tokenFn != nil {
		return m.tokenFn(ctx, userID)
	}
	s, err := m.sessions.Get(ctx, userID)
	if err != nil {
		return domain.Credential{}, domain.ErrUnauthenticated
	}
	return s.Credential, nil
}

type mockOAuth struct {
	exchangeFn func(ctx context.Context, code string) (domain.TokenGrant, error)
}

func (m *mockOAuth) AuthorizeURL(state string, scopes []string) string {
	return "https://id.twitch.tv/oauth2/authorize?state=" + state
}

func (m *mockOAuth) AuthorizationCode(ctx context.Context, code string) (domain.TokenGrant, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return domain.TokenGrant{}, errNotImplemented
}

type mockFollows struct {
	forgetFn  func(ctx context.Context, userID string) error
	forgotten []string
}

func (m *mockFollows) Forget(ctx context.Context, userID string) error {
	m.forgotten = append(m.forgotten, userID)
	if m.forgetFn != nil {
		return m.forgetFn(ctx, userID)
	}
	return nil
}

// --- Test helpers ---

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	clips    *mockClips
	lookups  *mockLookups
	tokens   *mockTokens
	oauth    *mockOAuth
	sessions *session.Repository
	clock    *clockwork.FakeClock
	deps     Dependencies
}

func newTestServer(t *testing.T, opts ...func(*Dependencies)) *testServer {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testNow)
	sessions := session.NewRepository(memory.NewStore(clock), time.Hour)

	ts := &testServer{
		clips:    &mockClips{},
		lookups:  &mockLookups{},
		tokens:   &mockTokens{sessions: sessions},
		oauth:    &mockOAuth{},
		sessions: sessions,
		clock:    clock,
	}
	deps := Dependencies{
		Clips:    ts.clips,
		Lookups:  ts.lookups,
		Tokens:   ts.tokens,
		OAuth:    ts.oauth,
		Sessions: sessions,
		Clock:    clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := &config.Config{
		SessionSecret:  "test-secret-key-32-bytes-long!!!",
		SessionMaxAge:  time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	ts.deps = deps
	ts.Server = NewServer(cfg, deps)
	return ts
}

func withHealthChecks(checks ...HealthCheck) func(*Dependencies) {
	return func(d *Dependencies) {
		d.HealthChecks = checks
	}
}

// serve runs req through the full router.
func (ts *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// signIn stores a session record for userID and returns a matching cookie.
func (ts *testServer) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()

	require.NoError(t, ts.sessions.Save(context.Background(), domain.Session{
		User:       domain.User{ID: userID, Login: "user" + userID},
		Credential: domain.Credential{AccessToken: "at-" + userID, RefreshToken: "rt", ExpiresAt: testNow.Add(time.Hour)},
		LoggedInAt: testNow,
	}))
	return ts.cookieFor(t, map[any]any{sessionKeyUserID: userID})
}

func (ts *testServer) cookieFor(t *testing.T, values map[any]any) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s, err := ts.cookies.New(req, sessionName)
	require.NoError(t, err)
	for k, v := range values {
		s.Values[k] = v
	}
	require.NoError(t, s.Save(req, rec))

	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionName {
			return c
		}
	}
	t.Fatal("session cookie not written")
	return nil
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}
