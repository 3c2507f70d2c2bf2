package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scriptSHA = redis.NewScript(rateLimitScript).Hash()

func TestCheckGlobalLimitAllowed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, logger.Discard())

	mock.ExpectEvalSha(scriptSHA, []string{"toolcrib:rate_limit:global"}, int64(5), 60).
		SetVal([]interface{}{int64(1), int64(3), int64(5), int64(0)})

	res, err := rl.CheckGlobalLimit(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.CurrentCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckActorLimitRejected(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, logger.Discard())

	mock.ExpectEvalSha(scriptSHA, []string{"toolcrib:rate_limit:actor:alice:scan"}, int64(30), 60).
		SetVal([]interface{}{int64(0), int64(31), int64(30), int64(12)})

	res, err := rl.CheckActorLimit(context.Background(), "alice", ClassScan)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(12), res.RetryAfterSeconds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckLimitSurfacesRedisErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, logger.Discard())

	mock.ExpectEvalSha(scriptSHA, []string{"toolcrib:rate_limit:global"}, int64(5), 60).
		SetErr(errors.New("connection refused"))

	_, err := rl.CheckGlobalLimit(context.Background(), 5)
	assert.Error(t, err)
}

func TestResetActorDeletesEveryClass(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, logger.Discard())

	mock.ExpectDel(
		"toolcrib:rate_limit:actor:alice:read",
		"toolcrib:rate_limit:actor:alice:mutation",
		"toolcrib:rate_limit:actor:alice:scan",
	).SetVal(3)

	require.NoError(t, rl.ResetActor(context.Background(), "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyRequest(t *testing.T) {
	assert.Equal(t, ClassRead, ClassifyRequest(http.MethodGet, "/api/v1/assets/:asset_id"))
	assert.Equal(t, ClassScan, ClassifyRequest(http.MethodPost, "/api/v1/assets/:asset_id/scan"))
	assert.Equal(t, ClassScan, ClassifyRequest(http.MethodPost, "/api/v1/assets/:asset_id/checkin"))
	assert.Equal(t, ClassMutation, ClassifyRequest(http.MethodPost, "/api/v1/reservations"))
	assert.Equal(t, DefaultClassConfigs[ClassScan].Limit, GetLimitForClass("unknown"))
}
