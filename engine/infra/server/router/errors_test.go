package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"insufficient content", knowledge.Wrap(knowledge.ErrInsufficientContent, nil, "short"), 422},
		{"unsupported format", knowledge.Wrap(knowledge.ErrUnsupportedFormat, nil, "xls"), 415},
		{"extraction", knowledge.Wrap(knowledge.ErrExtraction, errors.New("bad pdf"), "pdf"), 422},
		{"download", knowledge.Wrap(knowledge.ErrDownload, errors.New("eof"), "a.pdf"), 502},
		{"missing blob", knowledge.Wrap(knowledge.ErrDownload, knowledge.ErrSourceNotFound, "a.pdf"), 404},
		{"embedding", knowledge.Wrap(knowledge.ErrEmbeddingService, nil, "quota"), 502},
		{"vector store", knowledge.Wrap(knowledge.ErrVectorStore, nil, "down"), 503},
		{"generation", knowledge.Wrap(knowledge.ErrGenerationService, nil, "quota"), 502},
		{"configuration", knowledge.Wrap(knowledge.ErrConfiguration, nil, "api key"), 503},
		{"validation", uc.ErrQueryMissing, 400},
		{"not found", uc.ErrNotFound, 404},
		{"already running", ingest.ErrAlreadyRunning, 409},
		{"unknown", errors.New("boom"), 500},
	}
	for _, tc := range cases {
		t.Run("Should map "+tc.name+" to its status", func(t *testing.T) {
			assert.Equal(t, tc.status, StatusFor(tc.err))
		})
	}
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Run("Should write a problem document with the success flag", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			RespondError(c, knowledge.Wrap(knowledge.ErrInsufficientContent, nil, "too short"))
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "insufficient_content", body["code"])
		assert.Contains(t, body["message"], "too short")
		assert.Equal(t, "/x", body["instance"])
	})
	t.Run("Should hide internal error details", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { RespondError(c, errors.New("secret dsn")) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "secret dsn")
	})
	t.Run("Should render errors attached to the context", func(t *testing.T) {
		r := gin.New()
		r.Use(ErrorHandler())
		r.GET("/x", func(c *gin.Context) { _ = c.Error(uc.ErrNotFound) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
