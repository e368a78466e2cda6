package embedder

import (
	"context"
	"sync"

	"github.com/compozy/kbchat/engine/knowledge"
)

// Lazy defers client construction to the first call. A construction failure
// is remembered and returned as a configuration error on every call, so a
// process with missing credentials still starts.
type Lazy struct {
	build func(context.Context) (Embedder, error)
	once  sync.Once
	impl  Embedder
	err   error
}

func NewLazy(build func(context.Context) (Embedder, error)) *Lazy {
	return &Lazy{build: build}
}

// NewLazyFromConfig builds the configured provider adapter on first use.
func NewLazyFromConfig(cfg *Config) *Lazy {
	return NewLazy(func(ctx context.Context) (Embedder, error) {
		return New(ctx, cfg)
	})
}

func (l *Lazy) resolve(ctx context.Context) (Embedder, error) {
	l.once.Do(func() {
		l.impl, l.err = l.build(context.WithoutCancel(ctx))
		if l.err != nil {
			cause := knowledge.Wrap(knowledge.ErrEmbeddingService, l.err, "build client")
			l.err = knowledge.Wrap(knowledge.ErrConfiguration, cause, "embedding service unavailable")
		}
	})
	return l.impl, l.err
}

func (l *Lazy) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	impl, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return impl.EmbedDocuments(ctx, texts)
}

func (l *Lazy) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	impl, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return impl.EmbedQuery(ctx, text)
}
