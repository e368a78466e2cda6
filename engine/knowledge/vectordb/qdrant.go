package vectordb

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/compozy/kbchat/engine/core"
)

type qdrantStore struct {
	client     *resty.Client
	collection string
	dimension  int
}

// qdrantSearchResult captures the fields returned by Qdrant search responses.
type qdrantSearchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantError struct {
	Status any `json:"status"`
}

const (
	qdrantDefaultTimeout = 10 * time.Second
	qdrantTextKey        = "text"
	qdrantSourceKey      = "source_id"
)

func newQdrantStore(ctx context.Context, cfg *Config) (Store, error) {
	base := strings.TrimRight(cfg.DSN, "/")
	collection := cfg.Collection
	if collection == "" {
		collection = chooseTable(cfg)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	store := &qdrantStore{client: client, collection: collection, dimension: cfg.Dimension}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (q *qdrantStore) path(suffix string) string {
	return "/collections/" + q.collection + suffix
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	resp, err := q.client.R().SetContext(ctx).Get(q.path(""))
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("qdrant: inspect collection: status %d", resp.StatusCode())
	}
	body := map[string]any{
		"vectors": map[string]any{"size": q.dimension, "distance": "Cosine"},
	}
	return q.do(ctx, http.MethodPut, q.path(""), body, nil)
}

// buildQdrantFilter builds the request filter payload for Qdrant operations.
func buildQdrantFilter(ids []string, sourceID string, metadata map[string]string) map[string]any {
	must := make([]any, 0, len(metadata)+2)
	if len(ids) > 0 {
		must = append(must, map[string]any{"has_id": ids})
	}
	if sourceID != "" {
		must = append(must, map[string]any{
			"key":   qdrantSourceKey,
			"match": map[string]any{"value": sourceID},
		})
	}
	for _, key := range slices.Sorted(maps.Keys(metadata)) {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": metadata[key]},
		})
	}
	return map[string]any{"must": must}
}

// mapQdrantResults converts Qdrant search results into the internal Match slice.
func mapQdrantResults(results []qdrantSearchResult) []Match {
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		payload := core.CloneMap(res.Payload)
		if payload == nil {
			payload = make(map[string]any)
		}
		text, _ := payload[qdrantTextKey].(string)
		delete(payload, qdrantTextKey)
		sourceID, _ := payload[qdrantSourceKey].(string)
		matches = append(matches, Match{
			ID:       fmt.Sprint(res.ID),
			SourceID: sourceID,
			Score:    res.Score,
			Text:     text,
			Metadata: payload,
		})
	}
	return matches
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]any, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := checkDimension("qdrant", rec.ID, len(rec.Embedding), q.dimension); err != nil {
			return err
		}
		payload := core.CloneMap(rec.Metadata)
		if payload == nil {
			payload = make(map[string]any)
		}
		payload[qdrantTextKey] = rec.Text
		payload[qdrantSourceKey] = rec.SourceID
		points = append(points, map[string]any{
			"id":      rec.ID,
			"vector":  rec.Embedding,
			"payload": payload,
		})
	}
	return q.do(ctx, http.MethodPut, q.path("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != q.dimension {
		return nil, fmt.Errorf("qdrant: query dimension mismatch")
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	request := map[string]any{
		"vector":          query,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": opts.MinScore,
	}
	if opts.SourceID != "" || len(opts.Filters) > 0 {
		request["filter"] = buildQdrantFilter(nil, opts.SourceID, opts.Filters)
	}
	var response struct {
		Result []qdrantSearchResult `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.path("/points/search"), request, &response); err != nil {
		return nil, err
	}
	return Rank(mapQdrantResults(response.Result), opts.MinScore, limit), nil
}

func (q *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	request := map[string]any{
		"filter": buildQdrantFilter(filter.IDs, filter.SourceID, filter.Metadata),
	}
	return q.do(ctx, http.MethodPost, q.path("/points/delete?wait=true"), request, nil)
}

func (q *qdrantStore) Count(ctx context.Context, filter Filter) (int, error) {
	request := map[string]any{
		"filter": buildQdrantFilter(filter.IDs, filter.SourceID, filter.Metadata),
		"exact":  true,
	}
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.path("/points/count"), request, &response); err != nil {
		return 0, err
	}
	return response.Result.Count, nil
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func (q *qdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	var apiErr qdrantError
	req := q.client.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.IsError() {
		if status, ok := apiErr.Status.(map[string]any); ok {
			return fmt.Errorf("qdrant: %v (%d)", status["error"], resp.StatusCode())
		}
		return fmt.Errorf("qdrant: request failed with status %d", resp.StatusCode())
	}
	return nil
}
