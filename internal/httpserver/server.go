// Package httpserver provides the shared echo.Echo setup and response
// helpers every service binary's control surface uses (spec.md §6), grounded
// on masonrs2-tterminal's routes.go/ratelimit.go conventions.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig mirrors masonrs2-tterminal's config.RateLimitRPS/Burst.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// New builds an echo.Echo with request logging and rate limiting, and
// registers GET /healthz (spec.md §6 "all services additionally expose
// GET /healthz returning {ok: true}").
func New(logger *zap.Logger, rl RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if rl.RPS > 0 {
		e.Use(RateLimit(rl))
	}
	e.Use(requestLogger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	return e
}

// RateLimit is the teacher-pattern token-bucket middleware, generalized from
// masonrs2-tterminal's internal/middleware/ratelimit.go (config-field name
// changed, behavior identical: reject over-budget requests with 429).
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogLatency: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				logger.Warn("http request", fields...)
				return nil
			}
			logger.Info("http request", fields...)
			return nil
		},
	})
}

// Dropped implements spec.md §7's "invalid input returns 204
// (acknowledge-and-drop)" propagation policy.
func Dropped(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// Retryable implements spec.md §7's "transient returns a retryable status".
func Retryable(c echo.Context, err error) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
}

// Unexpected implements spec.md §7's "unexpected exceptions return 500 (so
// the bus redelivers)".
func Unexpected(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// Shutdown gracefully stops e, bounded by timeout.
func Shutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(ctx)
}
