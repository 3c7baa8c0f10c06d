package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/svglol/better-clips/internal/app"
	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/config"
)

type clipService interface {
	TopClips(ctx context.Context, userID string, req clips.PageRequest) (clips.ClipPage, error)
	TrendingClips(ctx context.Context, req clips.PageRequest) (clips.ClipPage, error)
}

type lookupService interface {
	Clips(ctx context.Context, q app.ClipsQuery) (app.Page[domain.Clip], error)
	Clip(ctx context.Context, id string) (domain.Clip, error)
	Game(ctx context.Context, q app.GameQuery) (app.Page[domain.Game], error)
	SearchGames(ctx context.Context, query, first, after string) (app.Page[domain.Game], error)
	SearchChannels(ctx context.Context, q app.ChannelSearch) (app.Page[domain.Channel], error)
	ChannelByLogin(ctx context.Context, login string) (domain.TwitchUser, error)
	FollowedUsers(ctx context.Context, user domain.User) ([]domain.TwitchUser, error)
	Viewer(ctx context.Context, accessToken string) (domain.TwitchUser, error)
}

type followCache interface {
	Forget(ctx context.Context, userID string) error
}

type userTokenSource interface {
	Token(ctx context.Context, userID string) (domain.Credential, error)
}

type oauthClient interface {
	AuthorizeURL(state string, scopes []string) string
	AuthorizationCode(ctx context.Context, code string) (domain.TokenGrant, error)
}

// Dependencies are the collaborators behind the HTTP surface.
type Dependencies struct {
	Clips        clipService
	Lookups      lookupService
	Tokens       userTokenSource
	OAuth        oauthClient
	Sessions     domain.SessionRepository
	Follows      followCache
	Clock        clockwork.Clock
	HealthChecks []HealthCheck

	// Optional. When set, /metrics is served and requests are measured.
	MetricsHandler    http.Handler
	MetricsMiddleware echo.MiddlewareFunc
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	clips    clipService
	lookups  lookupService
	tokens   userTokenSource
	oauth    oauthClient
	sessions domain.SessionRepository
	follows  followCache
	clock    clockwork.Clock

	cookies        *sessions.CookieStore
	healthChecks   []HealthCheck
	metricsHandler http.Handler
	metricsMW      echo.MiddlewareFunc
	startTime      time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		clips:          deps.Clips,
		lookups:        deps.Lookups,
		tokens:         deps.Tokens,
		oauth:          deps.OAuth,
		sessions:       deps.Sessions,
		follows:        deps.Follows,
		clock:          clock,
		cookies:        newCookieStore(cfg),
		healthChecks:   deps.HealthChecks,
		metricsHandler: deps.MetricsHandler,
		metricsMW:      deps.MetricsMiddleware,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Cookie names and keys
const (
	sessionName          = "better-clips-session"
	sessionKeyUserID     = "user_id"
	sessionKeyOAuthState = "oauth_state"
	callbackCookieName   = "callbackUrl"
)

func newCookieStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
