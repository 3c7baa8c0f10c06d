// Package clips builds clip feeds out of many small Helix calls: the follow
// graph of a user, per-channel and per-game clip lists, scoring and paging.
package clips

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/cache"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/gateway"
)

const followPageSize = "100"

// followList is the cached result of a traversal. Partial lists are cached for
// the short failure window only.
type followList struct {
	Channels []domain.ChannelRelationship `json:"channels"`
	Partial  bool                         `json:"partial,omitempty"`
}

type FollowGraph struct {
	gw    *gateway.Gateway
	cache *cache.Loader[followList]
}

func NewFollowGraph(gw *gateway.Gateway, store domain.Store, clock clockwork.Clock, ttl, partialTTL time.Duration, recorder cache.Recorder) *FollowGraph {
	return &FollowGraph{
		gw: gw,
		cache: cache.New(store, clock, cache.Options[followList]{
			Name:       "follows",
			TTL:        ttl,
			Failed:     func(l followList) bool { return l.Partial },
			FailureTTL: partialTTL,
			Recorder:   recorder,
		}),
	}
}

// FollowedChannels returns every channel userID follows, in upstream order. A
// failed page ends the traversal with what was collected so far; only token
// errors are returned.
func (f *FollowGraph) FollowedChannels(ctx context.Context, userID string) ([]domain.ChannelRelationship, error) {
	list, err := f.load(ctx, userID)
	return list.Channels, err
}

// Forget drops the cached follow list, e.g. on logout.
func (f *FollowGraph) Forget(ctx context.Context, userID string) error {
	return f.cache.Invalidate(ctx, userID)
}

func (f *FollowGraph) load(ctx context.Context, userID string) (followList, error) {
	return f.cache.Get(ctx, userID, func(ctx context.Context) (followList, error) {
		return f.traverse(ctx, userID)
	})
}

func (f *FollowGraph) traverse(ctx context.Context, userID string) (followList, error) {
	var list followList
	seen := make(map[string]bool)
	cursor := ""

	for {
		q := url.Values{"user_id": {userID}, "first": {followPageSize}}
		if cursor != "" {
			q.Set("after", cursor)
		}

		resp, err := gateway.Call[domain.ChannelRelationship](ctx, f.gw, "channels/followed", q,
			gateway.WithUser(userID), gateway.WithoutCache())
		if err != nil {
			return followList{}, err
		}
		if !resp.Success {
			slog.WarnContext(ctx, "Follow list page failed, returning partial list",
				"user_id", userID, "collected", len(list.Channels))
			list.Partial = true
			return list, nil
		}

		list.Channels = append(list.Channels, resp.Data...)

		cursor = resp.Pagination.Cursor
		if cursor == "" || seen[cursor] {
			return list, nil
		}
		seen[cursor] = true
	}
}
