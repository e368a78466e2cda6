package vectordb

import (
	"context"
	"strings"
	"time"

	appconfig "github.com/compozy/kbchat/pkg/config"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderPGVector Provider = "pgvector"
	ProviderQdrant   Provider = "qdrant"
	ProviderRedis    Provider = "redis"
	// ProviderFilesystem persists embeddings to a JSON snapshot on disk.
	ProviderFilesystem Provider = "filesystem"
	ProviderMemory     Provider = "memory"
)

const defaultTopK = 5

// Record represents a chunk persisted to the vector store.
type Record struct {
	ID        string
	SourceID  string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK     int
	MinScore float64
	SourceID string
	Filters  map[string]string
}

// Match captures a similarity search result.
type Match struct {
	ID       string
	SourceID string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter selects records for Delete and Count. Criteria are combined with
// AND; the zero Filter selects everything.
type Filter struct {
	IDs      []string
	SourceID string
	Metadata map[string]string
}

func (f Filter) IsZero() bool {
	return len(f.IDs) == 0 && f.SourceID == "" && len(f.Metadata) == 0
}

// Store exposes the minimal contract for ingestion and retrieval. Search
// returns matches ordered by descending cosine similarity.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	Count(ctx context.Context, filter Filter) (int, error)
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	Provider    Provider
	DSN         string
	Path        string
	Table       string
	Collection  string
	Index       string
	APIKey      string
	Dimension   int
	EnsureIndex bool
	Timeout     time.Duration
	MaxTopK     int
}

func ConfigFromApp(cfg *appconfig.Config) *Config {
	v := cfg.VectorDB
	return &Config{
		Provider:    Provider(strings.ToLower(strings.TrimSpace(v.Provider))),
		DSN:         strings.TrimSpace(v.DSN.Value()),
		Path:        strings.TrimSpace(v.Path),
		Table:       v.Table,
		Collection:  v.Collection,
		Index:       v.Index,
		APIKey:      v.APIKey.Value(),
		Dimension:   cfg.Embedder.Dimension,
		EnsureIndex: v.EnsureIndex,
		Timeout:     v.Timeout,
	}
}
