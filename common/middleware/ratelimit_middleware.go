package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/common/ratelimit"
)

// InternalServiceHeader lets trusted callers (e.g. sync jobs) bypass limits
const InternalServiceHeader = "X-Internal-Service"

// isInternalRequest checks the shared secret. An empty secret disables
// the bypass.
func isInternalRequest(c echo.Context, secret string) bool {
	if secret == "" {
		return false
	}
	return c.Request().Header.Get(InternalServiceHeader) == secret
}

// GlobalRateLimitMiddleware checks the global service-wide rate limit
// Protects the entire service from being overwhelmed
func GlobalRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, limit int64, internalSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c, internalSecret) {
				return next(c)
			}

			result, err := rateLimiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// ActorRateLimitMiddleware checks per-actor limits by operation class.
// actorOf returns the caller id; requests without one are not limited.
func ActorRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, actorOf func(echo.Context) string, internalSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c, internalSecret) {
				return next(c)
			}

			actor := actorOf(c)
			if actor == "" {
				return next(c)
			}

			class := ratelimit.ClassifyRequest(c.Request().Method, c.Path())
			result, err := rateLimiter.CheckActorLimit(c.Request().Context(), actor, class)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "actor_rate_limit_exceeded",
					"message": "You have exceeded your request quota. Please wait before trying again.",
					"details": map[string]interface{}{
						"actor_id":            actor,
						"class":               class,
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
