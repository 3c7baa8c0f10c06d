package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"8080"`
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchRedirectURI  string `env:"TWITCH_REDIRECT_URI"`
	SessionSecret      string `env:"SESSION_SECRET"`
	StoreBackend       string `env:"STORE_BACKEND" default:"redis"`
	RedisURL           string `env:"REDIS_URL"`
	DatabaseURL        string `env:"DATABASE_URL"`
	LogLevel           string `env:"LOG_LEVEL" default:"info"`
	LogFormat          string `env:"LOG_FORMAT" default:"text"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	AppTokenSkew           time.Duration `env:"APP_TOKEN_SKEW" default:"1m"`
	ValidationTTL          time.Duration `env:"VALIDATION_TTL" default:"5m"`
	RefreshLockTTL         time.Duration `env:"REFRESH_LOCK_TTL" default:"10s"`
	RefreshWaitInterval    time.Duration `env:"REFRESH_WAIT_INTERVAL" default:"100ms"`
	RefreshWaitMaxInterval time.Duration `env:"REFRESH_WAIT_MAX_INTERVAL" default:"1s"`
	RefreshWaitAttempts    int           `env:"REFRESH_WAIT_ATTEMPTS" default:"10"`

	GatewayCacheTTL      time.Duration `env:"GATEWAY_CACHE_TTL" default:"5m"`
	GatewayFailureTTL    time.Duration `env:"GATEWAY_FAILURE_TTL" default:"10s"`
	GatewayRetryAttempts int           `env:"GATEWAY_RETRY_ATTEMPTS" default:"2"`

	FollowsCacheTTL  time.Duration `env:"FOLLOWS_CACHE_TTL" default:"2m"`
	ClipsCacheTTL    time.Duration `env:"CLIPS_CACHE_TTL" default:"15m"`
	EmptyChannelTTL  time.Duration `env:"EMPTY_CHANNEL_TTL" default:"6h"`
	FanOutLimit      int           `env:"FANOUT_LIMIT" default:"25"`
	MinViews         int           `env:"MIN_VIEWS" default:"50"`
	TrendingGames    int           `env:"TRENDING_GAMES" default:"22"`
	TrendingMinViews int           `env:"TRENDING_MIN_VIEWS" default:"200"`
	TrendingLanguage string        `env:"TRENDING_LANGUAGE" default:"en"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"TWITCH_CLIENT_ID":     cfg.TwitchClientID,
		"TWITCH_CLIENT_SECRET": cfg.TwitchClientSecret,
		"TWITCH_REDIRECT_URI":  cfg.TwitchRedirectURI,
		"SESSION_SECRET":       cfg.SessionSecret,
	}
	switch cfg.StoreBackend {
	case StoreRedis:
		required["REDIS_URL"] = cfg.RedisURL
	case StorePostgres:
		required["DATABASE_URL"] = cfg.DatabaseURL
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of redis, postgres, memory, got %q", cfg.StoreBackend)
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.RefreshWaitAttempts < 1 {
		return errors.New("REFRESH_WAIT_ATTEMPTS must be at least 1")
	}
	if cfg.GatewayRetryAttempts < 1 {
		return errors.New("GATEWAY_RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.FanOutLimit < 1 {
		return errors.New("FANOUT_LIMIT must be at least 1")
	}

	return nil
}
