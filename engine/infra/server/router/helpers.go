package router

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders errors attached with c.Error when the handler did not
// write a response itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		RespondError(c, c.Errors.Last().Err)
	}
}

// GetURLParam returns the trimmed path parameter, answering 400 when empty.
func GetURLParam(c *gin.Context, name string) string {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		RespondProblemWithCode(c, http.StatusBadRequest, ErrBadRequestCode, name+" is required")
		return ""
	}
	return value
}

// BindJSON decodes the request body into dst. An empty body leaves dst at
// its zero value. It answers 400 and returns false on malformed input.
func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		RespondProblemWithCode(c, http.StatusBadRequest, ErrBadRequestCode, ErrMsgInvalidBody)
		return false
	}
	return true
}
