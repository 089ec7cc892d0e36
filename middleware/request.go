// Package middleware 提供文件接口使用的 Gin 中间件：请求 ID、访问日志、异常恢复、鉴权、限流与指标。
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/contextx"
	"github.com/wyfcoding/coursestore/idgen"
	"github.com/wyfcoding/coursestore/response"
	"github.com/wyfcoding/coursestore/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RequestID 沿用上游传入的 X-Request-ID，没有时用雪花算法生成。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(contextx.HeaderRequestID)
		if requestID == "" {
			requestID = idgen.GenIDString()
		}

		c.Request = c.Request.WithContext(contextx.WithRequestID(c.Request.Context(), requestID))
		c.Header(contextx.HeaderRequestID, requestID)

		c.Next()
	}
}

// RequestContext 注入客户端 IP 与 User-Agent，供日志使用。
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := contextx.WithIP(c.Request.Context(), c.ClientIP())
		ctx = contextx.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TraceIDHeader 把当前 Trace ID 写入 X-Trace-ID 响应头。需注册在 Tracing 之后。
func TraceIDHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID := tracing.GetTraceID(c.Request.Context()); traceID != "" {
			c.Header(contextx.HeaderTraceID, traceID)
		}
		c.Next()
	}
}

// Tracing 基于 otelgin 为每个请求创建 Span。
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// Logger 访问日志。slowThreshold 大于 0 时，超过阈值的请求以 WARN 级别输出。
func Logger(logger *slog.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)
		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case slowThreshold > 0 && cost > slowThreshold:
			level = slog.LevelWarn
		}

		logger.Log(c.Request.Context(), level, "HTTP Request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"cost", cost,
			"size", c.Writer.Size(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}

// Recovery 捕获 panic，记录堆栈并返回 500。
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(c.Request.Context(), "Panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.ErrorWithStatus(c, http.StatusInternalServerError, "Internal server error")
			}
		}()
		c.Next()
	}
}
