package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	resp "fleet-api/internal/transport/http/response"
)

// MaxBodyBytes 限制请求体大小；需要比图片上限略大，留给 multipart / base64 的开销
func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp.Error(resp.CodeTooLarge, "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
