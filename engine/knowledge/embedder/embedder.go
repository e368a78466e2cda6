package embedder

import (
	"context"
	"strings"

	appconfig "github.com/compozy/kbchat/pkg/config"
)

// Embedder maps text to vectors. Ingestion and retrieval must share one
// instance so both sides land in the same vector space.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderGoogleAI Provider = "googleai"
	ProviderOllama   Provider = "ollama"
)

// Config identifies the embedding model and client behavior.
type Config struct {
	Provider   Provider
	Model      string
	Dimension  int
	APIKey     string
	BaseURL    string
	BatchSize  int
	CacheSize  int
	MaxRetries uint64
}

func ConfigFromApp(cfg *appconfig.Config) *Config {
	e := cfg.Embedder
	return &Config{
		Provider:   Provider(strings.ToLower(strings.TrimSpace(e.Provider))),
		Model:      strings.TrimSpace(e.Model),
		Dimension:  e.Dimension,
		APIKey:     e.APIKey.Value(),
		BaseURL:    strings.TrimSpace(e.BaseURL),
		BatchSize:  e.BatchSize,
		CacheSize:  e.CacheSize,
		MaxRetries: e.MaxRetries,
	}
}
