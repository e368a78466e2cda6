package knowledge

import (
	"fmt"

	appconfig "github.com/compozy/kbchat/pkg/config"
)

const (
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultMinChunkLength      = 50
	DefaultMinContentLength    = 50
	DefaultSimilarityThreshold = 0.5
	DefaultTopK                = 5
	DefaultTemperature         = 0.3
	ContextSeparator           = "\n---\n"
)

// Options gathers the tunables shared by ingestion and retrieval.
type Options struct {
	ChunkStrategy        string
	ChunkSize            int
	ChunkOverlap         int
	MinChunkLength       int
	MinContentLength     int
	SimilarityThreshold  float64
	TopK                 int
	Temperature          float64
	EmbedConcurrency     int
	EmbedRatePerSecond   float64
	MaxConcurrentSources int64
}

func DefaultOptions() Options {
	return Options{
		ChunkStrategy:        "sliding_window",
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
		MinChunkLength:       DefaultMinChunkLength,
		MinContentLength:     DefaultMinContentLength,
		SimilarityThreshold:  DefaultSimilarityThreshold,
		TopK:                 DefaultTopK,
		Temperature:          DefaultTemperature,
		EmbedConcurrency:     1,
		MaxConcurrentSources: 4,
	}
}

// OptionsFromConfig maps the knowledge and generation config sections.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	k := cfg.Knowledge
	opts.ChunkStrategy = k.ChunkStrategy
	opts.ChunkSize = k.ChunkSize
	opts.ChunkOverlap = k.ChunkOverlap
	opts.MinChunkLength = k.MinChunkLength
	opts.MinContentLength = k.MinContentLength
	opts.SimilarityThreshold = k.SimilarityThreshold
	opts.TopK = k.TopK
	opts.EmbedConcurrency = k.EmbedConcurrency
	opts.EmbedRatePerSecond = k.EmbedRatePerSecond
	opts.MaxConcurrentSources = k.MaxConcurrentSources
	opts.Temperature = cfg.Generation.Temperature
	return opts
}

func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("knowledge: chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return fmt.Errorf("knowledge: chunk overlap must be in [0,%d), got %d", o.ChunkSize, o.ChunkOverlap)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("knowledge: top_k must be positive, got %d", o.TopK)
	}
	if o.SimilarityThreshold < -1 || o.SimilarityThreshold > 1 {
		return fmt.Errorf("knowledge: similarity threshold must be within [-1,1], got %v", o.SimilarityThreshold)
	}
	return nil
}
