package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/metrics"
	"go.uber.org/zap"
)

// Logger writes one zap entry per request and feeds the HTTP metrics.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		metrics.ObserveHTTPRequest(params.Method, routeOf(params), strconv.Itoa(params.StatusCode), params.Latency)

		fields := []zap.Field{
			zap.String("method", params.Method),
			zap.String("path", params.Path),
			zap.Int("status", params.StatusCode),
			zap.Duration("latency", params.Latency),
			zap.String("client_ip", params.ClientIP),
			zap.String("user_agent", params.Request.UserAgent()),
		}
		if params.ErrorMessage != "" {
			fields = append(fields, zap.String("error", params.ErrorMessage))
		}
		logger.Info("HTTP Request", fields...)
		return ""
	})
}

// Routes are labelled by their pattern so user ids don't explode the
// metric cardinality. Unmatched paths share one label.
func routeOf(params gin.LogFormatterParams) string {
	if route, ok := params.Keys[routeKey].(string); ok && route != "" {
		return route
	}
	return "unmatched"
}

const routeKey = "route"

// RouteLabel stores the matched route pattern for the logger.
func RouteLabel() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(routeKey, ctx.FullPath())
		ctx.Next()
	}
}
