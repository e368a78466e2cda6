package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/pkg/logger"
)

// Adapter wraps a langchaingo embedder with input normalization, an optional
// LRU cache, dimension checks and error classification.
type Adapter struct {
	provider   Provider
	model      string
	dimension  int
	maxRetries uint64
	impl       embeddings.Embedder
	cacheMu    sync.Mutex
	cache      *lru.Cache[string, []float32]
}

var (
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension cannot be negative")
	errInvalidBatchSize = errors.New("embedder batch size must be greater than zero")
)

var newlineRun = regexp.MustCompile(`\s*[\r\n]+\s*`)

// New constructs a provider-backed embedder adapter.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	impl, err := buildProviderEmbedder(ctx, cfg,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, err
	}
	return Wrap(cfg, impl)
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %s/%s: implementation is required", cfg.Provider, cfg.Model)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	a := &Adapter{
		provider:   cfg.Provider,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		impl:       impl,
	}
	if cfg.CacheSize > 0 {
		if err := a.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) Dimension() int {
	return a.dimension
}

func (a *Adapter) Model() string {
	return a.model
}

// EnableCache initializes an LRU cache for embeddings.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %s: cache size must be greater than zero", a.model)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %s: init cache: %w", a.model, err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// Normalize collapses line breaks and the whitespace around them into a
// single space.
func Normalize(text string) string {
	return strings.TrimSpace(newlineRun.ReplaceAllString(text, " "))
}

// EmbedDocuments returns one vector per text, in input order.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = Normalize(t)
	}
	results := make([][]float32, len(normalized))
	missing := make(map[string][]int)
	for i, text := range normalized {
		if vec, ok := a.lookupCache(text); ok {
			recordCache(ctx, string(a.provider), true)
			results[i] = vec
			continue
		}
		missing[text] = append(missing[text], i)
	}
	if len(missing) == 0 {
		return results, nil
	}
	unique := make([]string, 0, len(missing))
	for i, text := range normalized {
		if idxs, ok := missing[text]; ok && idxs[0] == i {
			unique = append(unique, text)
		}
	}
	var embedded [][]float32
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		embedded, err = a.impl.EmbedDocuments(ctx, unique)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(unique) {
		return nil, a.wrap(fmt.Errorf("received %d embeddings for %d texts", len(embedded), len(unique)))
	}
	for i, text := range unique {
		if err := a.checkDimension(embedded[i]); err != nil {
			return nil, err
		}
		recordCache(ctx, string(a.provider), false)
		a.storeCache(text, embedded[i])
		for _, idx := range missing[text] {
			results[idx] = cloneVector(embedded[i])
		}
	}
	return results, nil
}

// EmbedQuery embeds one query text with the same model used for documents.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = Normalize(text)
	if vec, ok := a.lookupCache(text); ok {
		recordCache(ctx, string(a.provider), true)
		return vec, nil
	}
	recordCache(ctx, string(a.provider), false)
	var vector []float32
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		vector, err = a.impl.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := a.checkDimension(vector); err != nil {
		return nil, err
	}
	a.storeCache(text, vector)
	return cloneVector(vector), nil
}

// call runs fn once, or up to maxRetries more times with exponential backoff
// when the client is configured to retry.
func (a *Adapter) call(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	var err error
	if a.maxRetries == 0 {
		err = fn(ctx)
	} else {
		backoff := retry.WithMaxRetries(a.maxRetries, retry.NewExponential(200*time.Millisecond))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.FromContext(ctx).Debug("Retrying embedding call", "provider", a.provider, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
	}
	recordRequest(ctx, string(a.provider), a.model, time.Since(start), err)
	if err != nil {
		return a.wrap(err)
	}
	return nil
}

func (a *Adapter) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return a.wrap(errors.New("empty embedding returned"))
	}
	if a.dimension > 0 && len(vec) != a.dimension {
		return a.wrap(fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), a.dimension))
	}
	return nil
}

func (a *Adapter) wrap(err error) error {
	return knowledge.Wrap(knowledge.ErrEmbeddingService, err, "%s/%s", a.provider, a.model)
}

func (a *Adapter) lookupCache(text string) ([]float32, bool) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cache == nil {
		return nil, false
	}
	value, ok := a.cache.Get(a.cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (a *Adapter) storeCache(text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cache != nil {
		a.cache.Add(a.cacheKey(text), cloneVector(vector))
	}
}

func (a *Adapter) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(a.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errMissingModel)
	}
	if cfg.Dimension < 0 {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errInvalidDimension)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errInvalidBatchSize)
	}
	return nil
}
