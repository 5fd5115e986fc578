package errx

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestWrapRedis(t *testing.T) {
	assert.NoError(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, redis.Nil)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))

	boom := errors.New("boom")
	err = WrapRedis(boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
}

func TestWrapSQL(t *testing.T) {
	err := WrapSQL(sql.ErrNoRows)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestWrapCheckpointWrite(t *testing.T) {
	assert.NoError(t, WrapCheckpointWrite(nil))

	cause := errors.New("disk full")
	err := WrapCheckpointWrite(cause)
	assert.True(t, IsCheckpointWrite(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.False(t, IsCheckpointWrite(cause))
}

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindRateLimit.Retryable())
	assert.True(t, KindConnectivity.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindOther.Retryable())
	assert.Equal(t, "rate_limit", KindRateLimit.String())
}
