package middleware

import "github.com/gin-gonic/gin"

// NoCache 禁用缓存中间件
// 票据出现在重定向地址和响应体里，任何一跳被缓存都可能泄露
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}
