package clips

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/adapter/memory"
	"github.com/svglol/better-clips/internal/adapter/twitch"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/gateway"
	"github.com/svglol/better-clips/internal/platform/retry"
)

// fakeHelix serves canned Helix pages and counts calls and concurrency.
type fakeHelix struct {
	mu          sync.Mutex
	follows     [][]domain.ChannelRelationship
	failPage    int
	channelClip map[string][]domain.Clip
	failChannel map[string]bool
	games       []domain.Game
	failGames   bool
	gameClips   map[string][]domain.Clip
	delay       time.Duration

	calls       map[string]int
	queries     []url.Values
	inFlight    int
	maxInFlight int
}

func newFakeHelix() *fakeHelix {
	return &fakeHelix{
		failPage:    -1,
		channelClip: make(map[string][]domain.Clip),
		failChannel: make(map[string]bool),
		gameClips:   make(map[string][]domain.Clip),
		calls:       make(map[string]int),
	}
}

func (f *fakeHelix) Get(_ context.Context, endpoint string, query url.Values, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls[endpoint]++
	f.queries = append(f.queries, query)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	switch endpoint {
	case "channels/followed":
		page := 0
		if after := query.Get("after"); after != "" {
			_, _ = fmt.Sscanf(after, "page-%d", &page)
		}
		if page == f.failPage {
			return nil, &twitch.StatusError{StatusCode: http.StatusInternalServerError}
		}
		cursor := ""
		if page+1 < len(f.follows) {
			cursor = fmt.Sprintf("page-%d", page+1)
		}
		var data []domain.ChannelRelationship
		if page < len(f.follows) {
			data = f.follows[page]
		}
		return encodePage(data, cursor)
	case "clips":
		if id := query.Get("broadcaster_id"); id != "" {
			if f.failChannel[id] {
				return nil, &twitch.StatusError{StatusCode: http.StatusBadGateway}
			}
			return encodePage(f.channelClip[id], "")
		}
		return encodePage(f.gameClips[query.Get("game_id")], "")
	case "games/top":
		if f.failGames {
			return nil, &twitch.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return encodePage(f.games, "")
	}
	return nil, &twitch.StatusError{StatusCode: http.StatusNotFound}
}

func (f *fakeHelix) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func encodePage[T any](data []T, cursor string) ([]byte, error) {
	if data == nil {
		data = []T{}
	}
	return json.Marshal(map[string]any{
		"data":       data,
		"pagination": map[string]string{"cursor": cursor},
	})
}

type staticApp struct{}

func (staticApp) Token(context.Context) (string, error) { return "app-token", nil }
func (staticApp) Invalidate(context.Context) error      { return nil }

type signedIn struct{}

func (signedIn) Token(_ context.Context, userID string) (domain.Credential, error) {
	return domain.Credential{AccessToken: "user-" + userID}, nil
}

type stack struct {
	clock clockwork.Clock
	store *memory.Store
	helix *fakeHelix
	graph *FollowGraph
	agg   *Aggregator
}

var testConfig = Config{
	FanOutLimit:      25,
	MinViews:         50,
	ClipsTTL:         15 * time.Minute,
	PartialTTL:       10 * time.Second,
	EmptyChannelTTL:  6 * time.Hour,
	TrendingGames:    22,
	TrendingMinViews: 200,
	TrendingLanguage: "en",
}

func newStack(clock clockwork.Clock, helix *fakeHelix) *stack {
	store := memory.NewStore(clock)
	gw := gateway.New(store, clock, helix, staticApp{}, signedIn{}, gateway.Config{
		CacheTTL:   5 * time.Minute,
		FailureTTL: 10 * time.Second,
		Retry:      retry.Policy{MaxAttempts: 1},
	})
	graph := NewFollowGraph(gw, store, clock, 2*time.Minute, 10*time.Second, nil)
	return &stack{
		clock: clock,
		store: store,
		helix: helix,
		graph: graph,
		agg:   NewAggregator(gw, graph, store, clock, testConfig),
	}
}

func channels(n int) []domain.ChannelRelationship {
	out := make([]domain.ChannelRelationship, n)
	for i := range out {
		id := fmt.Sprintf("b%d", i)
		out[i] = domain.ChannelRelationship{BroadcasterID: id, BroadcasterLogin: id}
	}
	return out
}

func clipAt(id, broadcaster string, views int, created time.Time) domain.Clip {
	return domain.Clip{ID: id, BroadcasterID: broadcaster, ViewCount: views, CreatedAt: created, Language: "en"}
}
