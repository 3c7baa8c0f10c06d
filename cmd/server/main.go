package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/svglol/better-clips/internal/adapter/backend"
	"github.com/svglol/better-clips/internal/adapter/httpserver"
	"github.com/svglol/better-clips/internal/adapter/metrics"
	"github.com/svglol/better-clips/internal/adapter/twitch"
	"github.com/svglol/better-clips/internal/app"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/coordination"
	"github.com/svglol/better-clips/internal/gateway"
	"github.com/svglol/better-clips/internal/platform/config"
	"github.com/svglol/better-clips/internal/platform/logging"
	"github.com/svglol/better-clips/internal/platform/retry"
	"github.com/svglol/better-clips/internal/session"
	"github.com/svglol/better-clips/internal/token"
)

const (
	followedUsersTTL  = time.Hour
	janitorInterval   = 10 * time.Minute
	janitorLeaseTTL   = 2 * janitorInterval
	startupTimeout    = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
	gatewayBackoff    = 250 * time.Millisecond
	gatewayMaxBackoff = 2 * time.Second
	rateLimitBackoff  = 2 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBackend(cfg *config.Config, clock clockwork.Clock, recorder backend.Recorder) *backend.Backend {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	b, err := backend.Open(ctx, backend.FromConfig(cfg), clock, recorder)
	if err != nil {
		slog.Error("Failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	slog.Info("Store ready", "backend", b.Kind)
	return b
}

// startJanitor purges expired rows on backends that need it. Only the instance
// holding the maintenance lease does the work.
func startJanitor(ctx context.Context, b *backend.Backend, clock clockwork.Clock) {
	if b.Purger == nil {
		return
	}
	leader := app.NewLeaderElector(b.Store, uuid.NewString(), janitorLeaseTTL)
	janitor := app.NewJanitor(leader, b.Purger, clock, janitorInterval)
	go janitor.Run(ctx)
}

func runGracefulShutdown(ctx context.Context, srv *httpserver.Server) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(registry)
	cacheMetrics := metrics.NewCacheMetrics(registry)
	tokenMetrics := metrics.NewTokenMetrics(registry)
	upstreamMetrics := metrics.NewUpstreamMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	store := setupBackend(cfg, clock, storeMetrics)
	defer store.Close()

	startJanitor(ctx, store, clock)

	twitchClient := twitch.NewClient(twitch.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
	})

	sessions := session.NewRepository(store.Store, cfg.SessionMaxAge)
	appTokens := token.NewAppTokens(store.Store, twitchClient, clock, cfg.AppTokenSkew, tokenMetrics)
	lock := coordination.NewRefreshLock(store.Store, clock, cfg.RefreshLockTTL, coordination.WaitPolicy{
		Interval:    cfg.RefreshWaitInterval,
		MaxInterval: cfg.RefreshWaitMaxInterval,
		MaxAttempts: cfg.RefreshWaitAttempts,
	})
	userTokens := token.NewUserTokens(store.Store, sessions, twitchClient, lock, clock, token.UserTokensConfig{
		ValidationTTL: cfg.ValidationTTL,
		CacheRecorder: cacheMetrics,
		Recorder:      tokenMetrics,
	})

	gw := gateway.New(store.Store, clock, twitchClient, appTokens, userTokens, gateway.Config{
		CacheTTL:   cfg.GatewayCacheTTL,
		FailureTTL: cfg.GatewayFailureTTL,
		Retry: retry.Policy{
			MaxAttempts:      cfg.GatewayRetryAttempts + 1,
			InitialBackoff:   gatewayBackoff,
			MaxBackoff:       gatewayMaxBackoff,
			RateLimitBackoff: rateLimitBackoff,
			Clock:            clock,
		},
		Recorder:      upstreamMetrics,
		CacheRecorder: cacheMetrics,
	})

	follows := clips.NewFollowGraph(gw, store.Store, clock, cfg.FollowsCacheTTL, cfg.GatewayFailureTTL, cacheMetrics)
	aggregator := clips.NewAggregator(gw, follows, store.Store, clock, clips.Config{
		FanOutLimit:      cfg.FanOutLimit,
		MinViews:         cfg.MinViews,
		ClipsTTL:         cfg.ClipsCacheTTL,
		PartialTTL:       cfg.GatewayFailureTTL,
		EmptyChannelTTL:  cfg.EmptyChannelTTL,
		TrendingGames:    cfg.TrendingGames,
		TrendingMinViews: cfg.TrendingMinViews,
		TrendingLanguage: cfg.TrendingLanguage,
		Recorder:         cacheMetrics,
	})
	lookups := app.NewService(gw, follows, store.Store, clock, app.Config{
		FollowedTTL: followedUsersTTL,
		PartialTTL:  cfg.GatewayFailureTTL,
		Recorder:    cacheMetrics,
	})

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Clips:    aggregator,
		Lookups:  lookups,
		Tokens:   userTokens,
		OAuth:    twitchClient,
		Sessions: sessions,
		Follows:  follows,
		Clock:    clock,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "store", Check: store.Store.Ping},
		},
		MetricsHandler:    metrics.Handler(registry),
		MetricsMiddleware: httpMetrics.Middleware(),
	})

	done := runGracefulShutdown(ctx, srv)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
