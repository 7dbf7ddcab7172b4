package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/stockopname/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// spanParams are route parameters copied onto the server span.
var spanParams = map[string]string{
	"id":          "opname.session_id",
	"scan_id":     "opname.scanned_item_id",
	"item_id":     "opname.snapshot_item_id",
	"branch_id":   "opname.branch_id",
	"schedule_id": "opname.schedule_id",
}

// GinMiddleware opens a server span per request. Spans for requests that end
// in a 5xx carry the last handler error.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("stockopname/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		for _, p := range c.Params {
			if key, ok := spanParams[p.Key]; ok {
				attrs = append(attrs, attribute.String(key, p.Value))
			}
		}
		// The auth middleware stores actor and branch on the request context.
		reqCtx := c.Request.Context()
		if actorType, actorID := obscontext.ActorFromContext(reqCtx); actorID != "" {
			attrs = append(attrs, attribute.String("enduser.type", actorType), attribute.String("enduser.id", actorID))
		}
		if branchID := obscontext.BranchIDFromContext(reqCtx); branchID != "" {
			attrs = append(attrs, attribute.String("opname.principal_branch_id", branchID))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, "request error")
	}
}
