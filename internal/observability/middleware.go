package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// requestIDKey matches the key the request id middleware stores under.
const requestIDKey = "request_id"

func skipped(path string, paths []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// TracingMiddleware opens a server span per status server request. Paths
// listed in skip, such as the long-lived relay stream, are not traced.
func TracingMiddleware(serviceName string, skip ...string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)

	return func(c *gin.Context) {
		if skipped(c.Request.URL.Path, skip) {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := routeOf(c)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				AttrHTTPMethod.String(c.Request.Method),
				AttrHTTPURL.String(c.Request.URL.String()),
				AttrHTTPRoute.String(route),
			),
		)
		defer span.End()
		if id := c.GetString(requestIDKey); id != "" {
			span.SetAttributes(AttrRequestID.String(id))
		}
		if id := c.Param("id"); id != "" {
			span.SetAttributes(AttrRenderID.String(id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(AttrHTTPStatusCode.Int(status))
		for _, err := range c.Errors {
			span.RecordError(err.Err)
		}
		if status >= 500 {
			span.SetStatus(codes.Error, "status server error")
		}
	}
}

// MetricsMiddleware records every status server request outside skip.
func MetricsMiddleware(mp *MetricsProvider, skip ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipped(c.Request.URL.Path, skip) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		mp.RecordHTTPRequest(c.Request.Context(), c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
