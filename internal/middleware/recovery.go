package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/pkg/casprotocol"
	"go.uber.org/zap"
)

// Recovery 恢复中间件
// 捕获 panic，记录日志；校验端点即使崩溃也回应结构完整的协议文档
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Get("request_id")

				logger.Error("服务器内部错误",
					zap.Any("request_id", requestID),
					zap.Any("error", r),
					zap.String("stack", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("ip", c.ClientIP()),
				)

				path := c.Request.URL.Path
				switch {
				case path == "/validate":
					c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("no\n\n"))
				case strings.Contains(path, "Validate") || path == "/proxy":
					c.Data(http.StatusOK, "application/xml; charset=utf-8",
						casprotocol.FailureResponse(casprotocol.CodeInternalError, "服务器内部错误"))
				default:
					c.String(http.StatusInternalServerError, "服务器内部错误，请稍后重试")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
