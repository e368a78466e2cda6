package size

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodySizeLimiter rejects declared bodies above limit with 413 and caps
// undeclared ones so decoding fails past the limit.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"type":    "about:blank",
				"title":   http.StatusText(http.StatusRequestEntityTooLarge),
				"status":  http.StatusRequestEntityTooLarge,
				"success": false,
				"message": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
