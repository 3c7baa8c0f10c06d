package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

const (
	// idle client buckets are dropped after this long
	rateLimiterExpiry = 5 * time.Minute
	retryAfterSeconds = 1
)

var errRateLimited = apperrors.ErrorResponse{Error: "rate limit exceeded", Type: "rate_limited"}

// newRateLimiter gives every client IP its own token bucket of ratePerSecond
// with the given burst. Each /api request takes one token; a clip feed can fan
// out to dozens of Helix calls, so this is what bounds upstream load per client.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		}),
		IdentifierExtractor: clientIP,
		ErrorHandler: func(c echo.Context, _ error) error {
			return apperrors.ForbiddenError("unable to identify client")
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			return c.JSON(http.StatusTooManyRequests, errRateLimited)
		},
	})
}

func clientIP(c echo.Context) (string, error) {
	return c.RealIP(), nil
}
