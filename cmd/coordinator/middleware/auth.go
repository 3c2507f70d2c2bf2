package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/common/logger"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorKey is the context key for the acting user id
	ActorKey ContextKey = "actor_id"

	// ActorHeader carries the caller's user id. Identity is asserted by the
	// upstream gateway; this service does not authenticate.
	ActorHeader = "X-User-ID"
)

// ExtractActor stores the X-User-ID header in the echo context and tags
// the request context with the request id for log correlation.
//
// Usage:
//
//	e.Use(middleware.ExtractActor())
//	actor := middleware.GetActor(c)
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor := c.Request().Header.Get(ActorHeader); actor != "" {
				c.Set(string(ActorKey), actor)
			}

			if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
				ctx := context.WithValue(c.Request().Context(), logger.TraceIDKey, reqID)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			return next(c)
		}
	}
}

// GetActor retrieves the actor id from the request context
// Returns empty string if not set
func GetActor(c echo.Context) string {
	actor, _ := c.Get(string(ActorKey)).(string)
	return actor
}

// RequireActor ensures an actor id exists in context
// Returns a 401 HTTP error for the handler to return if not found
func RequireActor(c echo.Context) (string, error) {
	actor := GetActor(c)
	if actor == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required")
	}
	return actor, nil
}
