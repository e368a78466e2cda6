// Package ingest runs the document ingestion path: extract, chunk, embed and
// replace the source's vectors, then record the outcome on the source.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/chunk"
	"github.com/compozy/kbchat/engine/knowledge/embedder"
	"github.com/compozy/kbchat/engine/knowledge/extract"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
	"github.com/compozy/kbchat/pkg/logger"
)

// ChunkFailure is a chunk that was dropped from the replace set.
type ChunkFailure struct {
	ChunkID string `json:"chunkId"`
	Index   int    `json:"index"`
	Stage   string `json:"stage"`
	Err     error  `json:"-"`
}

// Report summarizes one ingestion run.
type Report struct {
	SourceID  string                 `json:"sourceId"`
	Format    extract.Format         `json:"format,omitempty"`
	Chunks    int                    `json:"chunks"`
	Persisted int                    `json:"persisted"`
	Failed    []ChunkFailure         `json:"failed,omitempty"`
	Status    knowledge.SourceStatus `json:"status"`
	Duration  time.Duration          `json:"duration"`
}

// Partial reports whether some chunks were skipped in a successful run.
func (r Report) Partial() bool {
	return r.Status == knowledge.StatusProcessed && len(r.Failed) > 0
}

type Pipeline struct {
	extractor   *extract.Registry
	chunker     *chunk.Processor
	embedder    embedder.Embedder
	writer      *vectordb.Writer
	repo        sources.Repository
	concurrency int
	limiter     *rate.Limiter
}

type Option func(*Pipeline)

// WithConcurrency bounds how many chunks are embedded at once. Values below
// two keep embedding sequential.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRateLimit paces embedding calls. Zero disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithExtractor(r *extract.Registry) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.extractor = r
		}
	}
}

func WithChunker(c *chunk.Processor) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// NewPipeline wires the ingestion stages. The embedder must be the same
// instance the retriever uses.
func NewPipeline(
	emb embedder.Embedder,
	store vectordb.Store,
	repo sources.Repository,
	opts knowledge.Options,
	extra ...Option,
) (*Pipeline, error) {
	if emb == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if store == nil {
		return nil, errors.New("ingest: vector store is required")
	}
	if repo == nil {
		return nil, errors.New("ingest: source repository is required")
	}
	p := &Pipeline{
		embedder:    emb,
		writer:      vectordb.NewWriter(store),
		repo:        repo,
		concurrency: opts.EmbedConcurrency,
	}
	WithRateLimit(opts.EmbedRatePerSecond)(p)
	for _, opt := range extra {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = extract.NewRegistry(extract.WithMinContentLength(opts.MinContentLength))
	}
	if p.chunker == nil {
		chunker, err := chunk.NewProcessor(chunk.SettingsFromOptions(opts))
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		p.chunker = chunker
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p, nil
}

// Run ingests data as the new content of src. Extraction failures leave the
// vector store untouched. Chunks that fail to embed or insert are skipped
// and listed in the report; the source is processed when at least one chunk
// persisted and error otherwise.
func (p *Pipeline) Run(ctx context.Context, src *knowledge.Source, data []byte) (Report, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("source_id", src.ID)
	report := Report{SourceID: src.ID}
	finish := func(err error) (Report, error) {
		report.Duration = time.Since(start)
		if err != nil {
			report.Status = knowledge.StatusError
			p.markFailed(ctx, src, report.Persisted, err)
		} else {
			report.Status = knowledge.StatusProcessed
			p.markProcessed(ctx, src, report.Persisted)
		}
		knowledge.RecordIngestDuration(ctx, report.Status, report.Duration)
		knowledge.RecordIngestChunks(ctx, report.Persisted, len(report.Failed))
		return report, err
	}

	doc, err := p.extractor.Extract(ctx, src.Format, data)
	if err != nil {
		return finish(err)
	}
	report.Format = doc.Format
	meta := map[string]any{
		knowledge.MetaSourceName: src.Name,
		knowledge.MetaFormat:     string(doc.Format),
	}
	if src.Category != "" {
		meta[knowledge.MetaCategory] = src.Category
	}
	chunks, err := p.chunker.Process(src.ID, doc.Text, meta)
	if err != nil {
		return finish(knowledge.Wrap(knowledge.ErrExtraction, err, "chunk %s", src.Name))
	}
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return finish(knowledge.Wrap(knowledge.ErrInsufficientContent, nil, "no chunk reached the minimum length"))
	}

	vectors, embedErrs := p.embedChunks(ctx, chunks)
	records := make([]vectordb.Record, 0, len(chunks))
	var firstErr error
	for i := range chunks {
		if embedErrs[i] != nil {
			report.Failed = append(report.Failed, ChunkFailure{
				ChunkID: chunks[i].ID, Index: chunks[i].Index, Stage: "embed", Err: embedErrs[i],
			})
			if firstErr == nil {
				firstErr = embedErrs[i]
			}
			log.Warn("Chunk embedding failed", "chunk_index", chunks[i].Index, "error", embedErrs[i])
			continue
		}
		records = append(records, toRecord(&chunks[i], vectors[i]))
	}
	if len(records) == 0 {
		return finish(firstErr)
	}

	batch, err := p.writer.ReplaceVectors(ctx, src.ID, records)
	if err != nil {
		return finish(err)
	}
	for _, item := range batch.Items {
		if item.Err == nil {
			continue
		}
		report.Failed = append(report.Failed, ChunkFailure{
			ChunkID: item.ID, Index: chunkIndex(records[item.Index]), Stage: "insert", Err: item.Err,
		})
	}
	report.Persisted = batch.Inserted
	if report.Persisted == 0 {
		return finish(batch.Errors())
	}
	if len(report.Failed) > 0 {
		log.Warn("Ingestion finished with skipped chunks",
			"persisted", report.Persisted, "failed", len(report.Failed))
	} else {
		log.Info("Ingestion finished", "chunks", report.Persisted, "format", doc.Format)
	}
	return finish(nil)
}

// Fail records err on src without running any stage. Used when the bytes
// could not be fetched.
func (p *Pipeline) Fail(ctx context.Context, src *knowledge.Source, err error) {
	knowledge.RecordIngestDuration(ctx, knowledge.StatusError, 0)
	p.markFailed(ctx, src, 0, err)
}

func (p *Pipeline) markProcessed(ctx context.Context, src *knowledge.Source, persisted int) {
	upd := sources.StatusUpdate{Status: knowledge.StatusProcessed, ChunkCount: persisted}
	if err := p.repo.UpdateStatus(ctx, src.ID, upd); err != nil {
		logger.FromContext(ctx).Error("Failed to record source status", "source_id", src.ID, "error", err)
	}
	src.Status = knowledge.StatusProcessed
	src.ChunkCount = persisted
	src.Error = ""
}

func (p *Pipeline) markFailed(ctx context.Context, src *knowledge.Source, persisted int, cause error) {
	msg := cause.Error()
	logger.FromContext(ctx).Error("Ingestion failed",
		"source_id", src.ID, "kind", knowledge.KindOf(cause), "error", cause)
	upd := sources.StatusUpdate{Status: knowledge.StatusError, ChunkCount: persisted, Error: msg}
	if err := p.repo.UpdateStatus(ctx, src.ID, upd); err != nil {
		logger.FromContext(ctx).Error("Failed to record source status", "source_id", src.ID, "error", err)
	}
	src.Status = knowledge.StatusError
	src.ChunkCount = persisted
	src.Error = msg
}

// embedChunks embeds every chunk independently. Results are stored by index
// so one failure never shifts or corrupts another chunk's vector.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, []error) {
	vectors := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))
	embedOne := func(i int) {
		vectors[i], errs[i] = p.embedOne(ctx, chunks[i].Text)
	}
	if p.concurrency <= 1 {
		for i := range chunks {
			embedOne(i)
		}
		return vectors, errs
	}
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range chunks {
		g.Go(func() error {
			embedOne(i)
			return nil
		})
	}
	_ = g.Wait()
	return vectors, errs
}

func (p *Pipeline) embedOne(ctx context.Context, text string) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, knowledge.Wrap(knowledge.ErrEmbeddingService, err, "rate limiter")
		}
	}
	out, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		if errors.Is(err, knowledge.ErrEmbeddingService) || errors.Is(err, knowledge.ErrConfiguration) {
			return nil, err
		}
		return nil, knowledge.Wrap(knowledge.ErrEmbeddingService, err, "embed chunk")
	}
	if len(out) != 1 || len(out[0]) == 0 {
		return nil, knowledge.Wrap(knowledge.ErrEmbeddingService, nil, "embedder returned %d vectors for 1 chunk", len(out))
	}
	return out[0], nil
}

func toRecord(c *chunk.Chunk, vector []float32) vectordb.Record {
	meta := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["chunk_hash"] = c.Hash
	return vectordb.Record{
		ID:        c.ID,
		SourceID:  c.SourceID,
		Text:      c.Text,
		Embedding: vector,
		Metadata:  meta,
	}
}

func chunkIndex(rec vectordb.Record) int {
	if idx, ok := rec.Metadata[knowledge.MetaChunkIndex].(int); ok {
		return idx
	}
	return -1
}
