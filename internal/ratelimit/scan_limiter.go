package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stockopname/internal/config"
)

const (
	keyScanStaff = "opname:scan:staff:%s"
	keyScanBatch = "opname:scan:batch:%s:%s"

	defaultBatchLockTTL = 30 * time.Second
)

// ScanLimiter throttles scan ingestion per staff member and keeps a scanner
// from submitting two batches to the same session at once. A nil or disabled
// limiter allows everything.
type ScanLimiter struct {
	bucket *TokenBucket
	locker *Locker

	rate         float64
	burst        int
	batchLockTTL time.Duration
}

func NewScanLimiter(cfg config.Config, client *redis.Client) (*ScanLimiter, error) {
	if client == nil {
		return nil, nil
	}
	limitCfg := cfg.ScanLimit
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("scan rate limit must be positive")
	}
	ttl := limitCfg.BatchLockTTL
	if ttl <= 0 {
		ttl = defaultBatchLockTTL
	}
	return &ScanLimiter{
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		rate:         limitCfg.Rate,
		burst:        limitCfg.Burst,
		batchLockTTL: ttl,
	}, nil
}

func (l *ScanLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowStaff takes one token per identifier from the staff member's bucket.
// Batches larger than the burst are charged the full burst.
func (l *ScanLimiter) AllowStaff(ctx context.Context, staffID snowflake.ID, cost int) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	if cost < 1 {
		cost = 1
	}
	if cost > l.burst {
		cost = l.burst
	}
	return l.bucket.AllowN(ctx, fmt.Sprintf(keyScanStaff, staffID), l.rate, l.burst, cost)
}

func (l *ScanLimiter) TryLockBatch(ctx context.Context, sessionID, staffID snowflake.ID) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyScanBatch, sessionID, staffID), l.batchLockTTL)
}

func (l *ScanLimiter) ReleaseBatch(ctx context.Context, sessionID, staffID snowflake.ID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyScanBatch, sessionID, staffID), token)
}
