// Package response 提供文件接口统一的 JSON 响应封装，错误按 xerrors 大类映射 HTTP 状态码。
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/xerrors"
)

// HTTPStatusProvider 定义了能够提供 HTTP 状态码的错误接口。
type HTTPStatusProvider interface {
	HTTPStatus() int
}

// Success 以 200 输出原始数据，不做包装。可信后端的客户端直接解码响应体。
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// SuccessWithStatus 以指定状态码输出原始数据。
func SuccessWithStatus(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Error 发送错误响应 {"error": msg}。
// 能提供状态码的错误按其状态码输出，5xx 不暴露内部细节；其余一律 500。
func Error(c *gin.Context, err error) {
	if err == nil {
		Success(c, gin.H{"ok": true})
		return
	}

	statusCode := http.StatusInternalServerError
	msg := "Internal server error"

	if e, ok := xerrors.FromError(err); ok {
		statusCode = e.HTTPStatus()
		if statusCode < http.StatusInternalServerError {
			msg = e.Message
		}
	} else {
		var p HTTPStatusProvider
		if errors.As(err, &p) {
			statusCode = p.HTTPStatus()
		}
	}

	ErrorWithStatus(c, statusCode, msg)
}

// ErrorWithStatus 以指定状态码发送错误消息并中止后续处理。
func ErrorWithStatus(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
