package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-training/cms-oauth/pkg/core"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware propagates or assigns a request ID and stores it in the
// request context so core.LoggerFromCtx picks it up.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = core.NewRequestID()
		}
		c.Request = c.Request.WithContext(core.WithRequestID(c.Request.Context(), reqID))
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

// requestLogger records one line per request. Query strings are left out:
// the callback carries the authorization code.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		durationMs := float64(time.Since(start).Microseconds()) / 1000.0
		addRequestAttributes(c.Request.Context(),
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Float64("http.duration_ms", durationMs),
		)
	}
}

// securityHeaders keeps the handshake page out of frames and referrers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// addRequestAttributes sets attributes on the current span. Without a
// recording span the attributes are logged instead, with trace and span ids
// when available.
func addRequestAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
		return
	}

	logAttrs := make([]slog.Attr, 0, len(attrs)+2)
	for _, attr := range attrs {
		logAttrs = append(logAttrs, slog.Any(string(attr.Key), attr.Value.AsInterface()))
	}
	sc := span.SpanContext()
	if sc.HasTraceID() {
		logAttrs = append(logAttrs, slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		logAttrs = append(logAttrs, slog.String("span_id", sc.SpanID().String()))
	}
	core.LoggerFromCtx(ctx).LogAttrs(ctx, slog.LevelInfo, "HTTP request", logAttrs...)
}
