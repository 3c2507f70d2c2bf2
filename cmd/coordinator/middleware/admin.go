package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AdminTokenHeader carries the maintenance token
const AdminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware protects maintenance endpoints (metrics purge,
// cache clear, manual drains). An empty token leaves them open, which is
// only meant for local development.
func AdminTokenMiddleware(expectedToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expectedToken == "" {
				return next(c)
			}

			token := c.Request().Header.Get(AdminTokenHeader)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "maintenance endpoints require X-Admin-Token header",
				})
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error": "invalid admin token",
				})
			}

			return next(c)
		}
	}
}
