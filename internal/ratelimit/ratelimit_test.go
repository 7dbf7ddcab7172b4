package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/stockopname/internal/config"
)

func TestParseResultDenied(t *testing.T) {
	res, err := parseResult([]any{int64(0), "0.25", int64(1700000000000)}, 2, 10, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 375*time.Millisecond, res.RetryAfter)
}

func TestParseResultAllowed(t *testing.T) {
	res, err := parseResult([]any{int64(1), "7", int64(1700000000000)}, 20, 40, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 7, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestParseResultBatchCost(t *testing.T) {
	res, err := parseResult([]any{int64(0), "3", int64(1700000000000)}, 10, 40, 8)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 500*time.Millisecond, res.RetryAfter)
}

func TestParseResultRejectsShortReply(t *testing.T) {
	_, err := parseResult([]any{int64(1)}, 1, 1, 1)
	assert.Error(t, err)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(20, 40))
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter, err := NewScanLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowStaff(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockBatch(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, limiter.ReleaseBatch(context.Background(), 1, 2, token))
}

func TestTokenBucketRequiresClient(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}
