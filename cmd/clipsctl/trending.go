package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/svglol/better-clips/internal/adapter/backend"
	"github.com/svglol/better-clips/internal/adapter/twitch"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/coordination"
	"github.com/svglol/better-clips/internal/gateway"
	"github.com/svglol/better-clips/internal/platform/config"
	"github.com/svglol/better-clips/internal/platform/retry"
	"github.com/svglol/better-clips/internal/session"
	"github.com/svglol/better-clips/internal/token"
)

const maxTitleWidth = 60

func trendingCmd(clock clockwork.Clock) *cobra.Command {
	var page, limit string
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Show the current trending clips",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := clips.ParsePageRequest(page, limit, "limit")
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			b, err := backend.Open(cmd.Context(), backend.FromConfig(cfg), clock, nil)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer b.Close()

			aggregator := newAggregator(cfg, b, clock)
			result, err := aggregator.TrendingClips(cmd.Context(), req)
			if err != nil {
				return err
			}

			renderClips(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "1", "page number")
	cmd.Flags().StringVar(&limit, "limit", "", "clips per page (1-100)")
	return cmd
}

// newAggregator builds the app-token half of the server stack. Trending never
// needs a user token, but the gateway still wants a source for one.
func newAggregator(cfg *config.Config, b *backend.Backend, clock clockwork.Clock) *clips.Aggregator {
	client := twitch.NewClient(twitch.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
	})
	appTokens := token.NewAppTokens(b.Store, client, clock, cfg.AppTokenSkew, nil)
	lock := coordination.NewRefreshLock(b.Store, clock, cfg.RefreshLockTTL, coordination.WaitPolicy{
		Interval:    cfg.RefreshWaitInterval,
		MaxInterval: cfg.RefreshWaitMaxInterval,
		MaxAttempts: cfg.RefreshWaitAttempts,
	})
	userTokens := token.NewUserTokens(b.Store, session.NewRepository(b.Store, cfg.SessionMaxAge), client, lock, clock, token.UserTokensConfig{
		ValidationTTL: cfg.ValidationTTL,
	})

	gw := gateway.New(b.Store, clock, client, appTokens, userTokens, gateway.Config{
		CacheTTL:   cfg.GatewayCacheTTL,
		FailureTTL: cfg.GatewayFailureTTL,
		Retry: retry.Policy{
			MaxAttempts:      cfg.GatewayRetryAttempts + 1,
			InitialBackoff:   250 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			RateLimitBackoff: 2 * time.Second,
			Clock:            clock,
		},
	})
	follows := clips.NewFollowGraph(gw, b.Store, clock, cfg.FollowsCacheTTL, cfg.GatewayFailureTTL, nil)
	return clips.NewAggregator(gw, follows, b.Store, clock, clips.Config{
		FanOutLimit:      cfg.FanOutLimit,
		MinViews:         cfg.MinViews,
		ClipsTTL:         cfg.ClipsCacheTTL,
		PartialTTL:       cfg.GatewayFailureTTL,
		EmptyChannelTTL:  cfg.EmptyChannelTTL,
		TrendingGames:    cfg.TrendingGames,
		TrendingMinViews: cfg.TrendingMinViews,
		TrendingLanguage: cfg.TrendingLanguage,
	})
}

func renderClips(w io.Writer, page clips.ClipPage) {
	if len(page.Clips) == 0 {
		fmt.Fprintln(w, "No clips on this page.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Views", "Channel", "Title", "Created", "URL"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	offset := 0
	if p, err := strconv.Atoi(page.Pagination.CurrentPage); err == nil {
		if l, err := strconv.Atoi(page.Pagination.Limit); err == nil {
			offset = (p - 1) * l
		}
	}

	for i, clip := range page.Clips {
		table.Append([]string{
			strconv.Itoa(offset + i + 1),
			strconv.Itoa(clip.ViewCount),
			clip.BroadcasterName,
			truncate(strings.ReplaceAll(clip.Title, "\n", " "), maxTitleWidth),
			clip.CreatedAt.Format(time.DateOnly),
			clip.URL,
		})
	}
	table.Render()

	fmt.Fprintf(w, "page %s of %d (%d clips)\n", page.Pagination.CurrentPage, page.Pagination.TotalPages, page.Pagination.TotalClips)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
