package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/ratelimit"
	"github.com/stretchr/testify/assert"
)

func newEcho(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw)
	e.POST("/api/v1/assets/:asset_id/scan", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

func headerActor(c echo.Context) string {
	return c.Request().Header.Get("X-User-ID")
}

func TestActorRateLimitRejectsOverQuota(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := ratelimit.NewRateLimiter(db, logger.Discard())
	e := newEcho(ActorRateLimitMiddleware(rl, headerActor, "secret"))

	mock.ExpectEvalSha(rl.ScriptHash(), []string{"toolcrib:rate_limit:actor:alice:scan"}, int64(30), 60).
		SetVal([]interface{}{int64(0), int64(31), int64(30), int64(9)})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/drill-1/scan", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "actor_rate_limit_exceeded")
}

func TestActorRateLimitSkipsAnonymousAndInternal(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := ratelimit.NewRateLimiter(db, logger.Discard())
	e := newEcho(ActorRateLimitMiddleware(rl, headerActor, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/drill-1/scan", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/assets/drill-1/scan", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set(InternalServiceHeader, "secret")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGlobalRateLimitFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := ratelimit.NewRateLimiter(db, logger.Discard())
	e := newEcho(GlobalRateLimitMiddleware(rl, 10, ""))

	mock.ExpectEvalSha(rl.ScriptHash(), []string{"toolcrib:rate_limit:global"}, int64(10), 60).
		SetErr(assert.AnError)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/drill-1/scan", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
