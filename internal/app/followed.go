package app

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/gateway"
)

const (
	usersBatchSize   = 100
	usersBatchFanOut = 5
)

type followedUsers struct {
	Users   []domain.TwitchUser `json:"users"`
	Partial bool                `json:"partial,omitempty"`
}

// FollowedUsers returns the profiles of every channel user follows followed by
// the user's own, in follow order.
func (s *Service) FollowedUsers(ctx context.Context, user domain.User) ([]domain.TwitchUser, error) {
	result, err := s.followed.Get(ctx, user.ID, func(ctx context.Context) (followedUsers, error) {
		return s.loadFollowedUsers(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	if result.Users == nil {
		return []domain.TwitchUser{}, nil
	}
	return result.Users, nil
}

func (s *Service) loadFollowedUsers(ctx context.Context, user domain.User) (followedUsers, error) {
	channels, err := s.follows.FollowedChannels(ctx, user.ID)
	if err != nil {
		return followedUsers{}, err
	}

	ids := make([]string, 0, len(channels)+1)
	for _, ch := range channels {
		ids = append(ids, ch.BroadcasterID)
	}
	ids = append(ids, user.ID)

	var (
		mu      sync.Mutex
		byID    = make(map[string]domain.TwitchUser, len(ids))
		partial bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(usersBatchFanOut)
	for start := 0; start < len(ids); start += usersBatchSize {
		batch := ids[start:min(start+usersBatchSize, len(ids))]
		g.Go(func() error {
			resp, err := gateway.Call[domain.TwitchUser](gctx, s.gw, "users", url.Values{"id": batch},
				gateway.WithUser(user.ID), gateway.WithoutCache())
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if !resp.Success {
				slog.WarnContext(gctx, "User batch lookup failed", "user_id", user.ID, "batch_size", len(batch))
				partial = true
				return nil
			}
			for _, u := range resp.Data {
				byID[u.ID] = u
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return followedUsers{}, err
	}

	users := make([]domain.TwitchUser, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return followedUsers{Users: users, Partial: partial}, nil
}
