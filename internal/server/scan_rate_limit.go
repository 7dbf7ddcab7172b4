package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stockopname/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockopname/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonStaffRate        = "staff-rate"
	rateLimitReasonBatchConcurrency = "batch-concurrency"
)

// ScanRateLimit throttles scan ingestion per staff member. Batches are charged
// one token per identifier and a scanner may only run one batch per session at
// a time. Without Redis the middleware is a no-op.
func (s *Server) ScanRateLimit(batch bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.scanLimiter.Enabled() {
			c.Next()
			return
		}

		p, ok := principal(c)
		if !ok {
			return
		}
		sessionID, ok := pathID(c, "id")
		if !ok {
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		branchID := ""
		if p.BranchID != nil {
			branchID = p.BranchID.String()
		}

		cost := 1
		if batch {
			n, err := readBatchSize(c)
			if err != nil {
				logger.FromContext(ctx).Warn("scan rate limit read body failed", zap.Error(err))
				AbortWithError(c, invalidRequestError())
				return
			}
			cost = n
		}

		result, err := s.scanLimiter.AllowStaff(ctx, p.StaffID, cost)
		if err != nil {
			logger.FromContext(ctx).Warn("scan rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			denyScanRateLimit(c, endpoint, branchID, rateLimitReasonStaffRate, max(retryAfter, 1), s.obsMetrics)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if batch {
			token, locked, err := s.scanLimiter.TryLockBatch(ctx, sessionID, p.StaffID)
			if err != nil {
				logger.FromContext(ctx).Warn("scan batch lock failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !locked {
				denyScanRateLimit(c, endpoint, branchID, rateLimitReasonBatchConcurrency, 1, s.obsMetrics)
				return
			}
			defer func() {
				if err := s.scanLimiter.ReleaseBatch(context.WithoutCancel(ctx), sessionID, p.StaffID, token); err != nil {
					logger.FromContext(ctx).Warn("scan batch unlock failed", zap.Error(err))
				}
			}()
		}

		recordRateLimitAllowed(ctx, endpoint, branchID, s.obsMetrics)
		c.Next()
	}
}

func denyScanRateLimit(c *gin.Context, endpoint, branchID, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("scan rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, branchID, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, branchID string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, branchID, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, branchID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, branchID, endpoint, reason)
}

// readBatchSize peeks at the identifiers count and restores the body for the handler.
func readBatchSize(c *gin.Context) (int, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return 1, nil
	}

	var payload batchScanRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		// The handler reports the malformed body.
		return 1, nil
	}
	return max(len(payload.Identifiers), 1), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
