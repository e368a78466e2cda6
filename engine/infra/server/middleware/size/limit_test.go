package size

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBodySizeLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodySizeLimiter(8))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	t.Run("Should pass small bodies", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("Should reject declared bodies above the limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"query":"too long"}`)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
