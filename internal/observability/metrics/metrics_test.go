package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("branch_id", "123"),
		attribute.String("session_id", "456"),
		attribute.String("imei", "356938035643809"),
		attribute.String("result", "match"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("branch_id"))
	assert.Contains(t, keys, attribute.Key("result"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordScan(ctx, "match")
		m.RecordTransition(ctx, "complete")
		m.RecordResolution(ctx, "snapshot")
		m.RecordNotification(ctx, "email", errors.New("smtp down"))
		m.RecordRateLimitDenied(ctx, "1", "/scan", "rate_limited")
	})
}

func TestHTTPMiddlewareWithNoopProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewHTTPMetrics(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
