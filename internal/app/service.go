package app

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/cache"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/gateway"
	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

// Page is a Helix list passed through to the client.
type Page[T any] struct {
	Data       []T                `json:"data"`
	Pagination gateway.Pagination `json:"pagination"`
	Success    bool               `json:"success"`
}

func pageOf[T any](resp gateway.Response[T]) Page[T] {
	data := resp.Data
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, Pagination: resp.Pagination, Success: resp.Success}
}

type Config struct {
	FollowedTTL time.Duration
	PartialTTL  time.Duration
	Recorder    cache.Recorder
}

// Service answers lookups with the app token. Everything it serves is public
// Helix data, so all viewers share the gateway cache entries.
type Service struct {
	gw       *gateway.Gateway
	follows  *clips.FollowGraph
	followed *cache.Loader[followedUsers]
}

func NewService(gw *gateway.Gateway, follows *clips.FollowGraph, store domain.Store, clock clockwork.Clock, cfg Config) *Service {
	return &Service{
		gw:      gw,
		follows: follows,
		followed: cache.New(store, clock, cache.Options[followedUsers]{
			Name:       "followed_users",
			TTL:        cfg.FollowedTTL,
			Failed:     func(f followedUsers) bool { return f.Partial },
			FailureTTL: cfg.PartialTTL,
			Recorder:   cfg.Recorder,
		}),
	}
}

type ClipsQuery struct {
	BroadcasterID string
	GameID        string
	First         string
	After         string
	StartedAt     string
	EndedAt       string
}

func (s *Service) Clips(ctx context.Context, q ClipsQuery) (Page[domain.Clip], error) {
	if q.BroadcasterID == "" && q.GameID == "" {
		return Page[domain.Clip]{}, apperrors.ValidationError("either broadcaster_id or game_id must be provided").
			WithField("field", "broadcaster_id")
	}
	first, err := count(q.First, "50", "first")
	if err != nil {
		return Page[domain.Clip]{}, err
	}

	params := withOptional(map[string]string{
		"broadcaster_id": q.BroadcasterID,
		"game_id":        q.GameID,
		"first":          first,
		"after":          q.After,
		"started_at":     q.StartedAt,
		"ended_at":       q.EndedAt,
	})
	resp, err := gateway.Call[domain.Clip](ctx, s.gw, "clips", params)
	if err != nil {
		return Page[domain.Clip]{}, err
	}
	return pageOf(resp), nil
}

func (s *Service) Clip(ctx context.Context, id string) (domain.Clip, error) {
	if id == "" {
		return domain.Clip{}, apperrors.ValidationError("missing id").WithField("field", "id")
	}
	resp, err := gateway.Call[domain.Clip](ctx, s.gw, "clips", withOptional(map[string]string{"id": id}))
	if err != nil {
		return domain.Clip{}, err
	}
	return single(resp, "clip not found")
}

type GameQuery struct {
	ID     string
	Name   string
	IGDBID string
}

func (s *Service) Game(ctx context.Context, q GameQuery) (Page[domain.Game], error) {
	if q.ID == "" && q.Name == "" && q.IGDBID == "" {
		return Page[domain.Game]{}, apperrors.ValidationError("either id, name or igdb_id must be provided").
			WithField("field", "id")
	}

	params := withOptional(map[string]string{"id": q.ID, "name": q.Name, "igdb_id": q.IGDBID})
	resp, err := gateway.Call[domain.Game](ctx, s.gw, "games", params)
	if err != nil {
		return Page[domain.Game]{}, err
	}
	return pageOf(resp), nil
}

func (s *Service) SearchGames(ctx context.Context, query, first, after string) (Page[domain.Game], error) {
	first, err := count(first, "100", "first")
	if err != nil {
		return Page[domain.Game]{}, err
	}

	params := withOptional(map[string]string{"query": query, "first": first, "after": after})
	resp, err := gateway.Call[domain.Game](ctx, s.gw, "search/categories", params)
	if err != nil {
		return Page[domain.Game]{}, err
	}
	return pageOf(resp), nil
}

type ChannelSearch struct {
	Query    string
	LiveOnly string
	First    string
	After    string
}

// SearchChannels drops channels without a title and puts an exact display name
// match first; the rest are ordered by where the query occurs in the name.
func (s *Service) SearchChannels(ctx context.Context, q ChannelSearch) (Page[domain.Channel], error) {
	first, err := count(q.First, "20", "first")
	if err != nil {
		return Page[domain.Channel]{}, err
	}

	params := withOptional(map[string]string{"query": q.Query, "live_only": q.LiveOnly, "first": first, "after": q.After})
	resp, err := gateway.Call[domain.Channel](ctx, s.gw, "search/channels", params)
	if err != nil {
		return Page[domain.Channel]{}, err
	}

	page := pageOf(resp)
	page.Data = rankChannels(page.Data, q.Query)
	return page, nil
}

func rankChannels(channels []domain.Channel, query string) []domain.Channel {
	needle := strings.ToLower(query)

	out := make([]domain.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Title != "" {
			out = append(out, ch)
		}
	}

	slices.SortStableFunc(out, func(a, b domain.Channel) int {
		aName, bName := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
		aExact, bExact := aName == needle, bName == needle
		switch {
		case aExact && !bExact:
			return -1
		case bExact && !aExact:
			return 1
		}
		return cmp.Compare(strings.Index(bName, needle), strings.Index(aName, needle))
	})
	return out
}

func (s *Service) ChannelByLogin(ctx context.Context, login string) (domain.TwitchUser, error) {
	if login == "" {
		return domain.TwitchUser{}, apperrors.ValidationError("missing username").WithField("field", "name")
	}
	resp, err := gateway.Call[domain.TwitchUser](ctx, s.gw, "users", withOptional(map[string]string{"login": login}))
	if err != nil {
		return domain.TwitchUser{}, err
	}
	return single(resp, "channel not found")
}

// Viewer looks up the owner of accessToken. Used during login, before a session
// exists.
func (s *Service) Viewer(ctx context.Context, accessToken string) (domain.TwitchUser, error) {
	resp, err := gateway.Call[domain.TwitchUser](ctx, s.gw, "users", nil, gateway.WithToken(accessToken), gateway.WithoutCache())
	if err != nil {
		return domain.TwitchUser{}, err
	}
	if !resp.Success || len(resp.Data) == 0 {
		return domain.TwitchUser{}, apperrors.ExternalError("failed to look up twitch user", nil)
	}
	return resp.Data[0], nil
}

func single[T any](resp gateway.Response[T], notFound string) (T, error) {
	var zero T
	if !resp.Success {
		return zero, apperrors.ExternalError("twitch request failed", nil)
	}
	if len(resp.Data) == 0 {
		return zero, apperrors.NotFoundError(notFound)
	}
	return resp.Data[0], nil
}

// count validates an optional page size parameter.
func count(value, fallback, field string) (string, error) {
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 100 {
		return "", apperrors.ValidationError(field+" must be an integer between 1 and 100").WithField("field", field)
	}
	return value, nil
}
