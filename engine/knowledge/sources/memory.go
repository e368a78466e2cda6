package sources

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
)

// MemoryRepository keeps sources in process. Used by tests and the
// zero-dependency development setup.
type MemoryRepository struct {
	mu      sync.RWMutex
	sources map[string]knowledge.Source
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sources: make(map[string]knowledge.Source), now: func() time.Time { return time.Now().UTC() }}
}

func (r *MemoryRepository) Create(_ context.Context, src *knowledge.Source) error {
	if err := ValidateNew(src); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	r.sources[src.ID] = clone(*src)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*knowledge.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, NotFound(id)
	}
	out := clone(src)
	return &out, nil
}

func (r *MemoryRepository) FindByOrigin(_ context.Context, origin string) (*knowledge.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.sources {
		if src.Origin == origin {
			out := clone(src)
			return &out, nil
		}
	}
	return nil, NotFound(origin)
}

// List returns sources newest first.
func (r *MemoryRepository) List(_ context.Context) ([]knowledge.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]knowledge.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, clone(src))
	}
	slices.SortFunc(out, func(a, b knowledge.Source) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, upd StatusUpdate) error {
	if err := ValidateUpdate(upd); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return NotFound(id)
	}
	src.Status = upd.Status
	src.ChunkCount = upd.ChunkCount
	src.Error = upd.Error
	src.UpdatedAt = r.now()
	r.sources[id] = src
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; !ok {
		return NotFound(id)
	}
	delete(r.sources, id)
	return nil
}

func clone(src knowledge.Source) knowledge.Source {
	src.Metadata = core.CloneMap(src.Metadata)
	return src
}
