package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svglol/better-clips/internal/app"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/domain"
	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

func authedGet(t *testing.T, srv *testServer, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.AddCookie(srv.signIn(t, "42"))
	return srv.serve(req)
}

func TestTopClips_WireContract(t *testing.T) {
	srv := newTestServer(t)
	srv.clips.topClipsFn = func(_ context.Context, userID string, req clips.PageRequest) (clips.ClipPage, error) {
		assert.Equal(t, "42", userID)
		assert.Equal(t, 2, req.Page)
		assert.Equal(t, 1, req.Limit)
		all := []domain.Clip{{ID: "a"}, {ID: "b"}, {ID: "c"}}
		return clips.Paginate(all, req), nil
	}

	rec := authedGet(t, srv, "/api/twitch/user/topclips?page=2&first=1")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Clips      []domain.Clip  `json:"clips"`
		Pagination map[string]any `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Clips, 1)
	assert.Equal(t, "b", body.Clips[0].ID)
	assert.Equal(t, map[string]any{
		"currentPage":     "2",
		"totalPages":      float64(3),
		"totalClips":      float64(3),
		"limit":           "1",
		"hasNextPage":     true,
		"hasPreviousPage": true,
	}, body.Pagination)
}

func TestTopClips_Unauthenticated(t *testing.T) {
	srv := newTestServer(t)
	called := false
	srv.clips.topClipsFn = func(context.Context, string, clips.PageRequest) (clips.ClipPage, error) {
		called = true
		return clips.ClipPage{}, nil
	}

	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/api/twitch/user/topclips", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestTopClips_InvalidFirst(t *testing.T) {
	srv := newTestServer(t)

	rec := authedGet(t, srv, "/api/twitch/user/topclips?first=abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "first", resp.Context["field"])
}

func TestTrendingClips(t *testing.T) {
	srv := newTestServer(t)
	srv.clips.trendingClipsFn = func(_ context.Context, req clips.PageRequest) (clips.ClipPage, error) {
		assert.Equal(t, "50", req.RawLimit)
		return clips.Paginate([]domain.Clip{{ID: "t"}}, req), nil
	}

	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/api/twitch/trending-clips", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currentPage":"1"`)
	assert.Contains(t, rec.Body.String(), `"limit":"50"`)
}

func TestTrendingClips_LimitOutOfRange(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/api/twitch/trending-clips?limit=101", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"limit"`)
}

func TestFollowed_UsesSessionUser(t *testing.T) {
	srv := newTestServer(t)
	srv.lookups.followedUsersFn = func(_ context.Context, user domain.User) ([]domain.TwitchUser, error) {
		assert.Equal(t, "42", user.ID)
		assert.Equal(t, "user42", user.Login)
		return []domain.TwitchUser{{ID: "7", Login: "friend"}}, nil
	}

	rec := authedGet(t, srv, "/api/twitch/user/followed")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"login":"friend"`)
}

func TestLookupRoutes(t *testing.T) {
	srv := newTestServer(t)
	srv.lookups.clipsFn = func(_ context.Context, q app.ClipsQuery) (app.Page[domain.Clip], error) {
		assert.Equal(t, app.ClipsQuery{GameID: "9", First: "5", After: "cur"}, q)
		return app.Page[domain.Clip]{Data: []domain.Clip{{ID: "c1"}}, Success: true}, nil
	}
	srv.lookups.clipFn = func(_ context.Context, id string) (domain.Clip, error) {
		if id == "missing" {
			return domain.Clip{}, apperrors.NotFoundError("clip not found")
		}
		return domain.Clip{ID: id}, nil
	}
	srv.lookups.gameFn = func(_ context.Context, q app.GameQuery) (app.Page[domain.Game], error) {
		assert.Equal(t, app.GameQuery{Name: "Chess"}, q)
		return app.Page[domain.Game]{Data: []domain.Game{{ID: "743", Name: "Chess"}}, Success: true}, nil
	}
	srv.lookups.searchGamesFn = func(_ context.Context, query, first, after string) (app.Page[domain.Game], error) {
		assert.Equal(t, []string{"che", "", ""}, []string{query, first, after})
		return app.Page[domain.Game]{Data: []domain.Game{}, Success: true}, nil
	}
	srv.lookups.searchChannelsFn = func(_ context.Context, q app.ChannelSearch) (app.Page[domain.Channel], error) {
		assert.Equal(t, app.ChannelSearch{Query: "foo", LiveOnly: "true"}, q)
		return app.Page[domain.Channel]{Data: []domain.Channel{{ID: "1", Title: "live"}}, Success: true}, nil
	}
	srv.lookups.channelByLoginFn = func(_ context.Context, login string) (domain.TwitchUser, error) {
		assert.Equal(t, "someone", login)
		return domain.TwitchUser{ID: "5", Login: login}, nil
	}

	tests := []struct {
		target   string
		status   int
		contains string
	}{
		{"/api/twitch/clips?game_id=9&first=5&after=cur", http.StatusOK, `"id":"c1"`},
		{"/api/twitch/clips/abc", http.StatusOK, `"id":"abc"`},
		{"/api/twitch/clips/missing", http.StatusNotFound, `"clip not found"`},
		{"/api/twitch/game?name=Chess", http.StatusOK, `"name":"Chess"`},
		{"/api/twitch/game/search?query=che", http.StatusOK, `"data":[]`},
		{"/api/twitch/channels/search?query=foo&live_only=true", http.StatusOK, `"title":"live"`},
		{"/api/twitch/channels/someone", http.StatusOK, `"login":"someone"`},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := srv.serve(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestAPI_RateLimited(t *testing.T) {
	srv := newTestServer(t)
	srv.config.RateLimitRPS = 0.01
	srv.config.RateLimitBurst = 1
	srv.Server = NewServer(srv.config, srv.deps)

	first := srv.serve(httptest.NewRequest(http.MethodGet, "/api/twitch/trending-clips", nil))
	second := srv.serve(httptest.NewRequest(http.MethodGet, "/api/twitch/trending-clips", nil))
	health := srv.serve(httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, health.Code, "ops routes are not limited")
}
