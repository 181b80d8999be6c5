package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/insightzen/internal/observability/context"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware returns the otelgin server middleware followed by a handler
// that tags the active span with correlation ids. Register it after the
// request logging middleware so the request id is already in the context.
func GinMiddleware(serviceName string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(serviceName),
		func(c *gin.Context) {
			span := trace.SpanFromContext(c.Request.Context())
			c.Next()
			if span.IsRecording() {
				enrichSpan(c, span)
			}
		},
	}
}

func enrichSpan(c *gin.Context, span trace.Span) {
	ctx := c.Request.Context()
	attrs := make([]attribute.KeyValue, 0, 3)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if projectID := obscontext.ProjectIDFromContext(ctx); projectID != "" {
		attrs = append(attrs, attribute.String("project_id", projectID))
	}
	if actorID := obscontext.ActorIDFromContext(ctx); actorID != "" {
		attrs = append(attrs, attribute.String("actor_id", actorID))
	}
	span.SetAttributes(attrs...)

	if c.Writer.Status() >= http.StatusInternalServerError {
		if lastErr := c.Errors.Last(); lastErr != nil {
			span.RecordError(lastErr.Err)
		}
		span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
	}
}
