package clips

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/svglol/better-clips/internal/cache"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/gateway"
)

const (
	channelClipsPerPage = "100"
	gameClipsPerPage    = "50"

	emptyChannelPrefix = "empty_channel:"
)

type Config struct {
	FanOutLimit     int
	MinViews        int
	ClipsTTL        time.Duration
	PartialTTL      time.Duration
	EmptyChannelTTL time.Duration

	TrendingGames    int
	TrendingMinViews int
	// TrendingLanguage filters trending clips by language. Empty keeps all.
	TrendingLanguage string

	Recorder cache.Recorder
}

// rankedList is a cached, ranked clip list. It is partial when any fan-out call
// or the follow traversal failed, and then lives for PartialTTL only.
type rankedList struct {
	Clips   []domain.Clip `json:"clips"`
	Partial bool          `json:"partial,omitempty"`
}

type Aggregator struct {
	gw       *gateway.Gateway
	follows  *FollowGraph
	store    domain.Store
	clock    clockwork.Clock
	cfg      Config
	top      *cache.Loader[rankedList]
	trending *cache.Loader[rankedList]
}

func NewAggregator(gw *gateway.Gateway, follows *FollowGraph, store domain.Store, clock clockwork.Clock, cfg Config) *Aggregator {
	if cfg.FanOutLimit < 1 {
		cfg.FanOutLimit = 1
	}
	opts := func(name string) cache.Options[rankedList] {
		return cache.Options[rankedList]{
			Name:       name,
			TTL:        cfg.ClipsTTL,
			Failed:     func(l rankedList) bool { return l.Partial },
			FailureTTL: cfg.PartialTTL,
			Recorder:   cfg.Recorder,
		}
	}
	return &Aggregator{
		gw:       gw,
		follows:  follows,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		top:      cache.New(store, clock, opts("top")),
		trending: cache.New(store, clock, opts("trending")),
	}
}

// TopClips is the personal feed: recent clips from every channel userID follows.
func (a *Aggregator) TopClips(ctx context.Context, userID string, req PageRequest) (ClipPage, error) {
	bucket := Bucket(a.clock.Now())
	key := userID + ":" + strconv.FormatInt(bucket.Unix(), 10)

	list, err := a.top.Get(ctx, key, func(ctx context.Context) (rankedList, error) {
		return a.collectTop(ctx, userID, bucket)
	})
	if err != nil {
		return ClipPage{}, err
	}
	return Paginate(list.Clips, req), nil
}

// TrendingClips is the anonymous feed built from the current top games.
func (a *Aggregator) TrendingClips(ctx context.Context, req PageRequest) (ClipPage, error) {
	bucket := Bucket(a.clock.Now())
	key := strconv.FormatInt(bucket.Unix(), 10)

	list, err := a.trending.Get(ctx, key, func(ctx context.Context) (rankedList, error) {
		return a.collectTrending(ctx, bucket)
	})
	if err != nil {
		return ClipPage{}, err
	}
	return Paginate(list.Clips, req), nil
}

func (a *Aggregator) collectTop(ctx context.Context, userID string, bucket time.Time) (rankedList, error) {
	follows, err := a.follows.load(ctx, userID)
	if err != nil {
		return rankedList{}, err
	}
	channels := a.withoutEmpty(ctx, follows.Channels)

	start, end := bucket.Add(-window).Format(time.RFC3339), bucket.Format(time.RFC3339)
	fetched, partial, err := fanOut(ctx, a.cfg.FanOutLimit, channels, func(ctx context.Context, ch domain.ChannelRelationship) ([]domain.Clip, bool, error) {
		q := url.Values{
			"broadcaster_id": {ch.BroadcasterID},
			"first":          {channelClipsPerPage},
			"started_at":     {start},
			"ended_at":       {end},
		}
		resp, err := gateway.Call[domain.Clip](ctx, a.gw, "clips", q, gateway.WithUser(userID))
		if err != nil {
			return nil, false, err
		}
		if !resp.Success {
			slog.WarnContext(ctx, "Channel clips unavailable, skipping", "broadcaster_id", ch.BroadcasterID)
			return nil, false, nil
		}
		if len(resp.Data) == 0 {
			a.markEmpty(ctx, ch.BroadcasterID)
		}
		return resp.Data, true, nil
	})
	if err != nil {
		return rankedList{}, err
	}

	kept := make([]domain.Clip, 0, len(fetched))
	for _, c := range fetched {
		if c.ViewCount >= a.cfg.MinViews {
			kept = append(kept, c)
		}
	}

	slog.DebugContext(ctx, "Top clips collected",
		"user_id", userID, "channels", len(channels), "clips", len(kept), "partial", partial || follows.Partial)
	return rankedList{
		Clips:   Rank(kept, a.clock.Now()),
		Partial: partial || follows.Partial,
	}, nil
}

func (a *Aggregator) collectTrending(ctx context.Context, bucket time.Time) (rankedList, error) {
	games, err := gateway.Call[domain.Game](ctx, a.gw, "games/top", url.Values{"first": {strconv.Itoa(a.cfg.TrendingGames)}})
	if err != nil {
		return rankedList{}, err
	}
	if !games.Success {
		slog.WarnContext(ctx, "Top games unavailable, trending list is empty")
		return rankedList{Clips: []domain.Clip{}, Partial: true}, nil
	}

	start := bucket.Add(-window).Format(time.RFC3339)
	fetched, partial, err := fanOut(ctx, a.cfg.FanOutLimit, games.Data, func(ctx context.Context, g domain.Game) ([]domain.Clip, bool, error) {
		q := url.Values{
			"game_id":    {g.ID},
			"first":      {gameClipsPerPage},
			"started_at": {start},
		}
		resp, err := gateway.Call[domain.Clip](ctx, a.gw, "clips", q)
		if err != nil {
			return nil, false, err
		}
		if !resp.Success {
			slog.WarnContext(ctx, "Game clips unavailable, skipping", "game_id", g.ID)
		}
		return resp.Data, resp.Success, nil
	})
	if err != nil {
		return rankedList{}, err
	}

	kept := make([]domain.Clip, 0, len(fetched))
	for _, c := range fetched {
		if c.ViewCount <= a.cfg.TrendingMinViews {
			continue
		}
		if a.cfg.TrendingLanguage != "" && c.Language != a.cfg.TrendingLanguage {
			continue
		}
		kept = append(kept, c)
	}

	return rankedList{
		Clips:   Rank(kept, a.clock.Now()),
		Partial: partial,
	}, nil
}

// fanOut runs fetch for every item with at most limit calls in flight and
// concatenates the results in item order, independent of completion order. A
// fetch reporting ok=false makes the result partial; an error aborts.
func fanOut[T any](ctx context.Context, limit int, items []T, fetch func(context.Context, T) ([]domain.Clip, bool, error)) ([]domain.Clip, bool, error) {
	results := make([][]domain.Clip, len(items))
	succeeded := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			clips, ok, err := fetch(gctx, item)
			if err != nil {
				return err
			}
			results[i], succeeded[i] = clips, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var merged []domain.Clip
	partial := false
	for i := range items {
		merged = append(merged, results[i]...)
		partial = partial || !succeeded[i]
	}
	return merged, partial, nil
}

func (a *Aggregator) withoutEmpty(ctx context.Context, channels []domain.ChannelRelationship) []domain.ChannelRelationship {
	kept := make([]domain.ChannelRelationship, 0, len(channels))
	for _, ch := range channels {
		_, err := a.store.Get(ctx, emptyChannelPrefix+ch.BroadcasterID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, domain.ErrNotFound):
			slog.WarnContext(ctx, "Empty-channel marker read failed", "broadcaster_id", ch.BroadcasterID, "error", err)
		}
		kept = append(kept, ch)
	}
	return kept
}

func (a *Aggregator) markEmpty(ctx context.Context, broadcasterID string) {
	if a.cfg.EmptyChannelTTL <= 0 {
		return
	}
	if err := a.store.Set(ctx, emptyChannelPrefix+broadcasterID, []byte("1"), a.cfg.EmptyChannelTTL); err != nil {
		slog.WarnContext(ctx, "Failed to mark channel empty", "broadcaster_id", broadcasterID, "error", err)
	}
}
