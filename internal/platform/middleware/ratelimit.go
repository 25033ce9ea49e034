package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/careflow/careflow/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleExpiry drops the limiter of a key that made no request for this
	// long. Zero uses echo's default of three minutes.
	IdleExpiry time.Duration
}

// DefaultRateLimitConfig allows a mobile client to poll comfortably.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleExpiry:        3 * time.Minute,
	}
}

// rateLimitKey throttles each authenticated actor separately. Anonymous
// requests share a key per client IP.
func rateLimitKey(c echo.Context) (string, error) {
	if actor := auth.ActorFromContext(c.Request().Context()); actor != "" {
		return "actor:" + actor, nil
	}
	return "ip:" + c.RealIP(), nil
}

// retryAfterSeconds is the time one token takes to refill, rounded up.
func retryAfterSeconds(rps float64) int {
	if rps <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/rps)))
}

// RateLimit wraps echo's token bucket limiter with per-actor keys and the
// X-RateLimit headers. Mount it after the auth middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.IdleExpiry,
	})
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: rateLimitKey,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(cfg.RequestsPerSecond)))
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
