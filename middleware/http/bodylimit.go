package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	kerrors "github.com/kochabx/vidchat/errors"
	transport "github.com/kochabx/vidchat/transport/http"
)

// BodyLimit 限制请求体大小，Content-Length 已超限的请求直接返回 413
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > n {
			transport.GinError(c, kerrors.New(http.StatusRequestEntityTooLarge, "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
