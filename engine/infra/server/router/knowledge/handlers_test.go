package knowledgerouter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/infra/server/appstate"
	"github.com/compozy/kbchat/engine/infra/server/router"
	knowledgerouter "github.com/compozy/kbchat/engine/infra/server/router/knowledge"
	"github.com/compozy/kbchat/engine/infra/server/routes"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
	"github.com/compozy/kbchat/engine/knowledge/blob"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/records"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
	"github.com/compozy/kbchat/pkg/config"
)

const libraryDoc = "The central library opens at eight in the morning and closes at ten at night on weekdays."

type axisEmbedder struct{}

func axis(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "library") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = axis(text)
	}
	return out, nil
}

func (axisEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return axis(text), nil
}

type fixedBackend struct {
	last answer.BackendRequest
}

func (f *fixedBackend) Generate(_ context.Context, req answer.BackendRequest) (answer.BackendResponse, error) {
	f.last = req
	return answer.BackendResponse{Text: "The library opens at 8."}, nil
}

type fixture struct {
	engine  *gin.Engine
	state   *appstate.State
	repo    *sources.MemoryRepository
	backend *fixedBackend
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/docs/library.txt", []byte(libraryDoc), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/docs/short.txt", []byte("tiny"), 0o644))
	opts := knowledge.DefaultOptions()
	opts.ChunkSize = 200
	opts.ChunkOverlap = 0
	opts.MinChunkLength = 10
	opts.MinContentLength = 20
	repo := sources.NewMemoryRepository()
	store := vectordb.NewMemoryStore(2)
	emb := axisEmbedder{}
	runner := ingest.NewRunner(2)
	pipeline, err := ingest.NewPipeline(emb, store, repo, opts)
	require.NoError(t, err)
	ret, err := retriever.NewService(emb, store)
	require.NoError(t, err)
	backend := &fixedBackend{}
	gen, err := answer.NewGenerator(backend)
	require.NoError(t, err)
	query, err := uc.NewQuery(ret, gen)
	require.NoError(t, err)
	state, err := appstate.NewState(config.Default(), appstate.UseCases{
		Ingest:       uc.NewIngest(repo, blob.NewFileStore(fs, 0), pipeline, runner),
		Query:        query,
		Search:       uc.NewSearch(ret),
		ListSources:  uc.NewListSources(repo),
		GetSource:    uc.NewGetSource(repo),
		DeleteSource: uc.NewDeleteSource(repo, store, runner),
		Sync:         uc.NewSync(repo, nil, pipeline, runner, records.Spec{}),
	}, runner)
	require.NoError(t, err)
	r := gin.New()
	r.Use(router.ErrorHandler())
	r.Use(appstate.StateMiddleware(state))
	knowledgerouter.Register(r.Group(routes.Base()))
	return &fixture{engine: r, state: state, repo: repo, backend: backend}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIngestHandler(t *testing.T) {
	t.Run("Should ingest a document and report its chunks", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Ingest(), map[string]any{"fileName": "docs/library.txt"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[knowledgerouter.IngestResponse](t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.Chunks)
		require.NotEmpty(t, resp.ID)
		src, err := f.repo.Get(context.Background(), resp.ID)
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)
	})
	t.Run("Should accept async ingestion with a pending status", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Ingest(), map[string]any{"fileName": "docs/library.txt", "async": true})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		resp := decode[knowledgerouter.IngestResponse](t, w)
		assert.Equal(t, "pending", resp.Status)
		assert.Zero(t, resp.Chunks)
		f.state.Runner.Wait()
		src, err := f.repo.Get(context.Background(), resp.ID)
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)
	})
	t.Run("Should reject a request without a location", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Ingest(), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, false, body["success"])
		assert.NotEmpty(t, body["message"])
	})
	t.Run("Should answer 404 for a missing file", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Ingest(), map[string]any{"fileName": "docs/missing.txt"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("Should answer 422 for insufficient content", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Ingest(), map[string]any{"fileName": "docs/short.txt"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	})
	t.Run("Should reject malformed JSON", func(t *testing.T) {
		f := setupRouter(t)
		req := httptest.NewRequest(http.MethodPost, routes.Ingest(), strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChatHandler(t *testing.T) {
	t.Run("Should answer with the matched sources", func(t *testing.T) {
		f := setupRouter(t)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, routes.Ingest(), map[string]any{
			"fileName": "docs/library.txt",
		}).Code)
		w := f.do(t, http.MethodPost, routes.Chat(), map[string]any{
			"query": "When does the library open?",
			"conversationHistory": []map[string]string{
				{"role": "user", "content": "Hi"},
				{"role": "assistant", "content": "Hello"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[knowledgerouter.ChatResponse](t, w)
		assert.Equal(t, "The library opens at 8.", resp.Answer)
		require.Len(t, resp.Sources, 1)
		assert.Contains(t, resp.Sources[0].Content, "central library")
		require.Len(t, f.backend.last.History, 2)
		assert.Equal(t, knowledge.RoleAssistant, f.backend.last.History[1].Role)
	})
	t.Run("Should return an empty source list when nothing matches", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Chat(), map[string]any{"query": "Where can I park?"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"sources":[]`)
	})
	t.Run("Should reject an empty query", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Chat(), map[string]any{"query": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSearchHandler(t *testing.T) {
	t.Run("Should return matches without generating", func(t *testing.T) {
		f := setupRouter(t)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, routes.Ingest(), map[string]any{
			"fileName": "docs/library.txt",
		}).Code)
		w := f.do(t, http.MethodPost, routes.Search(), map[string]any{"query": "library", "topK": 3})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[knowledgerouter.SearchResponse](t, w)
		require.Len(t, resp.Matches, 1)
		assert.InDelta(t, 1.0, resp.Matches[0].Score, 1e-6)
		assert.Empty(t, f.backend.last.Question)
	})
}

func TestSourcesHandlers(t *testing.T) {
	t.Run("Should list, get and delete a source", func(t *testing.T) {
		f := setupRouter(t)
		ingested := decode[knowledgerouter.IngestResponse](t, f.do(t, http.MethodPost, routes.Ingest(), map[string]any{
			"fileName": "docs/library.txt",
		}))
		list := decode[knowledgerouter.SourceListResponse](t, f.do(t, http.MethodGet, routes.Sources(), nil))
		require.Len(t, list.Sources, 1)
		assert.Equal(t, ingested.ID, list.Sources[0].ID)

		w := f.do(t, http.MethodGet, routes.Source(ingested.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		src := decode[knowledge.Source](t, w)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)

		w = f.do(t, http.MethodDelete, routes.Source(ingested.ID), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = f.do(t, http.MethodGet, routes.Source(ingested.ID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("Should return an empty list instead of null", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodGet, routes.Sources(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"sources":[]}`, w.Body.String())
	})
}

func TestSyncHandler(t *testing.T) {
	t.Run("Should answer 503 without a records database", func(t *testing.T) {
		f := setupRouter(t)
		w := f.do(t, http.MethodPost, routes.Sync(), map[string]any{"table": "courses"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
