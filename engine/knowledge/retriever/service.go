package retriever

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/chunk"
	"github.com/compozy/kbchat/engine/knowledge/embedder"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
	"github.com/compozy/kbchat/pkg/logger"
)

// Options narrows a single retrieval. Zero values fall back to the service
// defaults; Threshold is a pointer because zero is a valid threshold.
type Options struct {
	TopK      int
	Threshold *float64
	SourceID  string
	Filters   map[string]string
	MaxTokens int
}

func (o Options) ThresholdValue(fallback float64) float64 {
	if o.Threshold == nil {
		return fallback
	}
	return *o.Threshold
}

type Service struct {
	embedder  embedder.Embedder
	store     vectordb.Store
	estimator chunk.TokenEstimator
	topK      int
	threshold float64
	tracer    trace.Tracer
}

type Option func(*Service)

// WithDefaults overrides the default top-k and similarity threshold.
func WithDefaults(topK int, threshold float64) Option {
	return func(s *Service) {
		if topK > 0 {
			s.topK = topK
		}
		s.threshold = threshold
	}
}

func WithEstimator(est chunk.TokenEstimator) Option {
	return func(s *Service) {
		if est != nil {
			s.estimator = est
		}
	}
}

func NewService(emb embedder.Embedder, store vectordb.Store, opts ...Option) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: retriever vector store is required")
	}
	s := &Service{
		embedder:  emb,
		store:     store,
		estimator: chunk.RuneEstimator{},
		topK:      knowledge.DefaultTopK,
		threshold: knowledge.DefaultSimilarityThreshold,
		tracer:    otel.Tracer("kbchat.knowledge.retriever"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Retrieve embeds query and returns at most TopK matches scoring at least
// Threshold, best first. No match is not an error.
func (s *Service) Retrieve(
	ctx context.Context,
	query string,
	opts Options,
) (matches []knowledge.RetrievedMatch, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("knowledge: query is required")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}
	threshold := opts.ThresholdValue(s.threshold)
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "kbchat.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.Int("top_k", topK),
		attribute.Float64("threshold", threshold),
	))
	defer s.finishRetrieve(ctx, span, start, &matches, &err)

	vector, err := s.embedQueryWithSpan(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, vector, topK, threshold, opts)
}

// Embed turns query into a vector with the shared embedder.
func (s *Service) Embed(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("knowledge: query is required")
	}
	return s.embedQueryWithSpan(ctx, query)
}

// SearchVector runs the similarity search for an already embedded query
// with the same contract as Retrieve.
func (s *Service) SearchVector(
	ctx context.Context,
	vector []float32,
	opts Options,
) ([]knowledge.RetrievedMatch, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}
	return s.search(ctx, vector, topK, opts.ThresholdValue(s.threshold), opts)
}

func (s *Service) search(
	ctx context.Context,
	vector []float32,
	topK int,
	threshold float64,
	opts Options,
) ([]knowledge.RetrievedMatch, error) {
	found, err := s.searchMatches(ctx, vector, vectordb.SearchOptions{
		TopK:     topK,
		MinScore: threshold,
		SourceID: opts.SourceID,
		Filters:  core.CloneMap(opts.Filters),
	})
	if err != nil {
		return nil, err
	}
	// Stores already rank, but the contract must hold for any backend.
	found = vectordb.Rank(found, threshold, topK)
	if len(found) == 0 {
		knowledge.RecordRetrievalEmpty(ctx)
		return []knowledge.RetrievedMatch{}, nil
	}
	return s.buildMatches(found, opts.MaxTokens), nil
}

func (s *Service) embedQueryWithSpan(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "kbchat.knowledge.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, knowledge.ErrEmbeddingService) || errors.Is(err, knowledge.ErrConfiguration) {
			return nil, err
		}
		return nil, knowledge.Wrap(knowledge.ErrEmbeddingService, err, "embed query")
	}
	return vector, nil
}

func (s *Service) searchMatches(
	ctx context.Context,
	vector []float32,
	opts vectordb.SearchOptions,
) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "kbchat.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.Int("top_k", opts.TopK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, vector, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, knowledge.Wrap(knowledge.ErrVectorStore, err, "similarity search")
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

func (s *Service) buildMatches(found []vectordb.Match, maxTokens int) []knowledge.RetrievedMatch {
	out := make([]knowledge.RetrievedMatch, len(found))
	total := 0
	for i := range found {
		tokens := s.estimator.Estimate(found[i].Text)
		total += tokens
		sourceID := found[i].SourceID
		if sourceID == "" {
			sourceID, _ = found[i].Metadata[knowledge.MetaSourceID].(string)
		}
		out[i] = knowledge.RetrievedMatch{
			ID:            found[i].ID,
			SourceID:      sourceID,
			Content:       found[i].Text,
			Score:         found[i].Score,
			TokenEstimate: tokens,
			Metadata:      core.CloneMap(found[i].Metadata),
		}
	}
	return trimToBudget(out, total, maxTokens)
}

// trimToBudget drops the lowest-ranked matches until the token total fits.
func trimToBudget(matches []knowledge.RetrievedMatch, total, maxTokens int) []knowledge.RetrievedMatch {
	if maxTokens <= 0 {
		return matches
	}
	for total > maxTokens && len(matches) > 0 {
		last := len(matches) - 1
		total -= matches[last].TokenEstimate
		matches = matches[:last]
	}
	return matches
}

func (s *Service) finishRetrieve(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	matches *[]knowledge.RetrievedMatch,
	runErr *error,
) {
	log := logger.FromContext(ctx)
	seconds := time.Since(start).Seconds()
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Knowledge retrieval failed", "error", err, "duration_seconds", seconds)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := len(*matches)
	log.Debug("Knowledge retrieval finished", "results", total, "duration_seconds", seconds)
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}
