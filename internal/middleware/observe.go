package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/animehub/pkg/logger"
	"github.com/charlesng35/animehub/pkg/metrics"
)

const (
	// RequestIDHeader carries the correlation id in both directions.
	RequestIDHeader = "X-Request-ID"
	// CtxRequestIDKey stores the correlation id on the gin context.
	CtxRequestIDKey = "requestID"

	maxRequestIDLength = 128
)

// RequestID reuses a well-formed inbound X-Request-ID or mints a new one, and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
			id = uuid.NewString()
		}
		c.Set(CtxRequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Observe writes one structured access log line and one latency sample per request. Probe and
// scrape routes log at debug so they do not drown real traffic.
func Observe() gin.HandlerFunc {
	log := logger.WithModule("http")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := routeOf(c)
		status := c.Writer.Status()
		metrics.APILatency.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case strings.HasPrefix(route, "/health"), route == "/metrics":
			level = zapcore.DebugLevel
		}
		if ce := log.Check(level, "request"); ce != nil {
			fields := []zap.Field{
				zap.String("method", c.Request.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("client_ip", c.ClientIP()),
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
			}
			if uid := c.GetString(CtxUserIDKey); uid != "" {
				fields = append(fields, zap.String("user_id", uid))
			}
			ce.Write(fields...)
		}
	}
}

// routeOf prefers the matched route template so ids do not explode metric cardinality.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
