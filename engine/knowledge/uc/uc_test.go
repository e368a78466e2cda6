package uc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
	"github.com/compozy/kbchat/engine/knowledge/assemble"
	"github.com/compozy/kbchat/engine/knowledge/blob"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/records"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
)

const (
	hoursDoc   = "The central library opening hours are from eight in the morning until ten at night on weekdays."
	parkingDoc = "Student parking permits are issued by the campus security office located next to the north gate."
)

// keywordEmbedder maps text onto three axes so similarity is predictable.
type keywordEmbedder struct {
	mu       sync.Mutex
	queryErr error
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "hours"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "parking"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (k *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = keywordVector(text)
	}
	return out, nil
}

func (k *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.queryErr != nil {
		return nil, k.queryErr
	}
	return keywordVector(text), nil
}

type captureBackend struct {
	mu   sync.Mutex
	reqs []answer.BackendRequest
	resp answer.BackendResponse
	err  error
}

func (c *captureBackend) Generate(_ context.Context, req answer.BackendRequest) (answer.BackendResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return answer.BackendResponse{}, c.err
	}
	return c.resp, nil
}

type env struct {
	repo     *sources.MemoryRepository
	store    vectordb.Store
	emb      *keywordEmbedder
	fs       afero.Fs
	runner   *ingest.Runner
	pipeline *ingest.Pipeline
	ingest   *Ingest
	backend  *captureBackend
}

func newEnv(t *testing.T) *env {
	t.Helper()
	opts := knowledge.DefaultOptions()
	opts.ChunkSize = 200
	opts.ChunkOverlap = 0
	opts.MinChunkLength = 20
	opts.MinContentLength = 20
	e := &env{
		repo:    sources.NewMemoryRepository(),
		store:   vectordb.NewMemoryStore(3),
		emb:     &keywordEmbedder{},
		fs:      afero.NewMemMapFs(),
		runner:  ingest.NewRunner(2),
		backend: &captureBackend{resp: answer.BackendResponse{Text: "Opening hours are 8 to 22."}},
	}
	require.NoError(t, afero.WriteFile(e.fs, "/docs/hours.txt", []byte(hoursDoc), 0o644))
	require.NoError(t, afero.WriteFile(e.fs, "/docs/parking.md", []byte(parkingDoc), 0o644))
	p, err := ingest.NewPipeline(e.emb, e.store, e.repo, opts)
	require.NoError(t, err)
	e.pipeline = p
	e.ingest = NewIngest(e.repo, blob.NewFileStore(e.fs, 0), p, e.runner)
	return e
}

func (e *env) query(t *testing.T, mode answer.Mode, observer StageObserver) *Query {
	t.Helper()
	r, err := retriever.NewService(e.emb, e.store)
	require.NoError(t, err)
	g, err := answer.NewGenerator(e.backend, answer.WithMode(mode))
	require.NoError(t, err)
	q, err := NewQuery(r, g, WithStageObserver(observer))
	require.NoError(t, err)
	return q
}

func (e *env) ingestAll(t *testing.T) {
	t.Helper()
	for _, name := range []string{"docs/hours.txt", "docs/parking.md"} {
		_, err := e.ingest.Execute(context.Background(), &IngestInput{FileName: name, Category: "campus"})
		require.NoError(t, err)
	}
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (s *stageRecorder) observe(_ context.Context, _, to Stage) {
	s.mu.Lock()
	s.stages = append(s.stages, to)
	s.mu.Unlock()
}

func TestIngest_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("Should ingest a blob and mark the source processed", func(t *testing.T) {
		e := newEnv(t)
		out, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt"})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Chunks())
		assert.Equal(t, "hours.txt", out.Source.Name)
		assert.Equal(t, "txt", out.Source.Format)
		got, err := e.repo.Get(ctx, out.Source.ID)
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusProcessed, got.Status)
		assert.Equal(t, 1, got.ChunkCount)
	})

	t.Run("Should reuse the source of a known origin", func(t *testing.T) {
		e := newEnv(t)
		first, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt"})
		require.NoError(t, err)
		second, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt"})
		require.NoError(t, err)
		assert.Equal(t, first.Source.ID, second.Source.ID)
		list, err := e.repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		n, err := e.store.Count(ctx, vectordb.Filter{SourceID: first.Source.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Should reprocess by source id", func(t *testing.T) {
		e := newEnv(t)
		first, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/parking.md"})
		require.NoError(t, err)
		again, err := e.ingest.Execute(ctx, &IngestInput{SourceID: first.Source.ID})
		require.NoError(t, err)
		assert.Equal(t, first.Source.ID, again.Source.ID)
		assert.Equal(t, 1, again.Chunks())
	})

	t.Run("Should record download failures on the source", func(t *testing.T) {
		e := newEnv(t)
		out, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/missing.pdf"})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrDownload)
		assert.ErrorIs(t, err, knowledge.ErrSourceNotFound)
		require.NotNil(t, out)
		got, gerr := e.repo.Get(ctx, out.Source.ID)
		require.NoError(t, gerr)
		assert.Equal(t, knowledge.StatusError, got.Status)
		assert.NotEmpty(t, got.Error)
	})

	t.Run("Should run in the background and be pollable", func(t *testing.T) {
		e := newEnv(t)
		out, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt", Async: true})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusPending, out.Source.Status)
		assert.Equal(t, 0, out.Chunks())
		src, err := ingest.WaitForStatus(ctx, e.repo, out.Source.ID,
			ingest.PollOptions{Interval: time.Millisecond, MaxAttempts: 2000})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)
		e.runner.Wait()
	})

	t.Run("Should leave the running source untouched when a second trigger is rejected", func(t *testing.T) {
		e := newEnv(t)
		first, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt"})
		require.NoError(t, err)
		release := make(chan struct{})
		started := make(chan struct{})
		require.NoError(t, e.runner.Start(ctx, first.Source.ID, func(context.Context) error {
			close(started)
			<-release
			return nil
		}))
		<-started
		for _, async := range []bool{false, true} {
			_, err = e.ingest.Execute(ctx, &IngestInput{SourceID: first.Source.ID, Async: async})
			assert.ErrorIs(t, err, ingest.ErrAlreadyRunning)
			got, gerr := e.repo.Get(ctx, first.Source.ID)
			require.NoError(t, gerr)
			assert.Equal(t, knowledge.StatusProcessed, got.Status)
			assert.Equal(t, 1, got.ChunkCount)
		}
		close(release)
		e.runner.Wait()
	})

	t.Run("Should validate input", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.ingest.Execute(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = e.ingest.Execute(ctx, &IngestInput{})
		assert.ErrorIs(t, err, ErrLocationMissing)
		_, err = e.ingest.Execute(ctx, &IngestInput{SourceID: "unknown"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQuery_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("Should answer from retrieved context and cite the matches", func(t *testing.T) {
		e := newEnv(t)
		e.ingestAll(t)
		rec := &stageRecorder{}
		out, err := e.query(t, answer.ModeRetrieval, rec.observe).Execute(ctx, &QueryInput{
			Query:   "What are the library hours?",
			History: []knowledge.Message{{Role: knowledge.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Opening hours are 8 to 22.", out.Result.Text)
		require.Len(t, out.Matches, 1)
		assert.Contains(t, out.Matches[0].Content, "opening hours")
		require.Len(t, out.Result.Sources, 1)
		assert.Equal(t, "hours.txt", out.Result.Sources[0].Metadata[knowledge.MetaSourceName])
		require.Len(t, e.backend.reqs, 1)
		assert.Contains(t, e.backend.reqs[0].System, "Context:\n"+hoursDoc)
		assert.Len(t, e.backend.reqs[0].History, 1)
		assert.Equal(t, []Stage{
			StageReceived, StageEmbedding, StageSearching, StageAssembling, StageGenerating, StageCompleted,
		}, rec.stages)
	})

	t.Run("Should fall back to general knowledge when nothing matches", func(t *testing.T) {
		e := newEnv(t)
		e.ingestAll(t)
		out, err := e.query(t, answer.ModeRetrieval, nil).Execute(ctx, &QueryInput{Query: "Who won the match?"})
		require.NoError(t, err)
		assert.Empty(t, out.Matches)
		assert.Empty(t, out.Result.Sources)
		require.Len(t, e.backend.reqs, 1)
		assert.Contains(t, e.backend.reqs[0].System, assemble.FallbackContext)
	})

	t.Run("Should fail in the embedding stage", func(t *testing.T) {
		e := newEnv(t)
		e.emb.queryErr = errors.New("connection refused")
		rec := &stageRecorder{}
		_, err := e.query(t, answer.ModeRetrieval, rec.observe).Execute(ctx, &QueryInput{Query: "hours?"})
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageEmbedding, stageErr.Stage)
		assert.Equal(t, knowledge.KindEmbedding, stageErr.Kind)
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingService)
		assert.Equal(t, StageFailed, rec.stages[len(rec.stages)-1])
		assert.Empty(t, e.backend.reqs)
	})

	t.Run("Should fail in the generating stage", func(t *testing.T) {
		e := newEnv(t)
		e.backend.err = errors.New("503 from model")
		_, err := e.query(t, answer.ModeRetrieval, nil).Execute(ctx, &QueryInput{Query: "hours?"})
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageGenerating, stageErr.Stage)
		assert.ErrorIs(t, err, knowledge.ErrGenerationService)
	})

	t.Run("Should skip retrieval in grounded mode", func(t *testing.T) {
		e := newEnv(t)
		e.backend.resp = answer.BackendResponse{
			Text:      "Grounded answer.",
			Citations: []knowledge.Citation{{Content: "snippet", Metadata: map[string]any{"title": "Hours"}}},
		}
		rec := &stageRecorder{}
		out, err := e.query(t, answer.ModeGrounded, rec.observe).Execute(ctx, &QueryInput{Query: "hours?"})
		require.NoError(t, err)
		assert.Equal(t, []Stage{StageReceived, StageGenerating, StageCompleted}, rec.stages)
		assert.Len(t, out.Result.Sources, 1)
		assert.NotContains(t, e.backend.reqs[0].System, "Context:")
	})

	t.Run("Should reject blank queries", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.query(t, answer.ModeRetrieval, nil).Execute(ctx, &QueryInput{Query: "  "})
		assert.ErrorIs(t, err, ErrQueryMissing)
	})
}

func TestSearch_Execute(t *testing.T) {
	t.Run("Should return ranked matches without generating", func(t *testing.T) {
		ctx := context.Background()
		e := newEnv(t)
		e.ingestAll(t)
		r, err := retriever.NewService(e.emb, e.store)
		require.NoError(t, err)
		zero := 0.0
		matches, err := NewSearch(r).Execute(ctx, &SearchInput{
			Query:   "parking permits",
			Options: retriever.Options{TopK: 5, Threshold: &zero},
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Contains(t, matches[0].Content, "parking")
		assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
		assert.Empty(t, e.backend.reqs)
	})
}

func TestSources(t *testing.T) {
	ctx := context.Background()

	t.Run("Should list and get sources", func(t *testing.T) {
		e := newEnv(t)
		e.ingestAll(t)
		list, err := NewListSources(e.repo).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		got, err := NewGetSource(e.repo).Execute(ctx, list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, list[0].ID, got.ID)
		_, err = NewGetSource(e.repo).Execute(ctx, " ")
		assert.ErrorIs(t, err, ErrIDMissing)
	})

	t.Run("Should return an empty list instead of nil", func(t *testing.T) {
		list, err := NewListSources(sources.NewMemoryRepository()).Execute(ctx)
		require.NoError(t, err)
		assert.NotNil(t, list)
	})

	t.Run("Should delete chunks before the source", func(t *testing.T) {
		e := newEnv(t)
		out, err := e.ingest.Execute(ctx, &IngestInput{FileName: "docs/hours.txt"})
		require.NoError(t, err)
		id := out.Source.ID
		require.NoError(t, NewDeleteSource(e.repo, e.store, e.runner).Execute(ctx, id))
		n, err := e.store.Count(ctx, vectordb.Filter{SourceID: id})
		require.NoError(t, err)
		assert.Zero(t, n)
		_, err = e.repo.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		err = NewDeleteSource(e.repo, e.store, e.runner).Execute(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

type fakeProvider struct {
	rows []records.Row
	spec records.Spec
}

func (f *fakeProvider) Fetch(_ context.Context, spec records.Spec) ([]records.Row, error) {
	f.spec = spec
	return f.rows, nil
}

func TestSync_Execute(t *testing.T) {
	ctx := context.Background()
	row := func(key, title, hours string) records.Row {
		r, err := records.NewRow("id", []string{"title", "hours"}, map[string]any{
			"id": key, "title": title, "hours": hours,
		})
		require.NoError(t, err)
		return r
	}

	t.Run("Should ingest each row as its own source", func(t *testing.T) {
		e := newEnv(t)
		provider := &fakeProvider{rows: []records.Row{
			row("1", "Main library", "Opening hours run from eight until ten"),
			row("2", "Science annex", "Opening hours run from nine until six"),
		}}
		spec := records.Spec{Table: "facilities", KeyColumn: "id", Category: "records"}
		syncUC := NewSync(e.repo, provider, e.pipeline, e.runner, spec)
		out, err := syncUC.Execute(ctx, &SyncInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, out.Sources)
		assert.Equal(t, 2, out.Chunks)
		assert.Zero(t, out.Failed)
		src, err := e.repo.FindByOrigin(ctx, records.Origin("facilities", "1"))
		require.NoError(t, err)
		assert.Equal(t, "facilities #1", src.Name)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)

		out, err = syncUC.Execute(ctx, &SyncInput{})
		require.NoError(t, err)
		list, err := e.repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2, "a second sync reuses the row sources")
		n, err := e.store.Count(ctx, vectordb.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Should count rows too short to ingest as failures", func(t *testing.T) {
		e := newEnv(t)
		provider := &fakeProvider{rows: []records.Row{row("1", "x", "")}}
		spec := records.Spec{Table: "facilities", KeyColumn: "id"}
		out, err := NewSync(e.repo, provider, e.pipeline, e.runner, spec).Execute(ctx, &SyncInput{Table: "rooms"})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Failed)
		assert.Equal(t, "rooms", provider.spec.Table)
	})

	t.Run("Should require a records provider", func(t *testing.T) {
		e := newEnv(t)
		_, err := NewSync(e.repo, nil, e.pipeline, e.runner, records.Spec{}).Execute(ctx, nil)
		assert.ErrorIs(t, err, knowledge.ErrConfiguration)
	})
}
