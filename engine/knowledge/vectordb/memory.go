package vectordb

import (
	"context"
	"fmt"
	"sync"

	"github.com/compozy/kbchat/engine/core"
)

// memoryStore keeps records in process. Search is a brute-force cosine scan.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]Record
}

func NewMemoryStore(dimension int) Store {
	return &memoryStore{dimension: dimension, records: make(map[string]Record)}
}

func (s *memoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked("memory", records)
}

func (s *memoryStore) upsertLocked(name string, records []Record) error {
	for i := range records {
		if err := checkDimension(name, records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = Record{
			ID:        rec.ID,
			SourceID:  rec.SourceID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  core.CloneMap(rec.Metadata),
		}
	}
	return nil
}

func (s *memoryStore) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("memory: query dimension mismatch (got %d want %d)", len(query), s.dimension)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	filter := Filter{SourceID: opts.SourceID, Metadata: opts.Filters}
	candidates := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		if !recordSelected(rec, filter) {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			SourceID: rec.SourceID,
			Score:    cosineSimilarity(rec.Embedding, query),
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	return Rank(candidates, opts.MinScore, opts.TopK), nil
}

func (s *memoryStore) Delete(_ context.Context, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(filter)
	return nil
}

func (s *memoryStore) deleteLocked(filter Filter) bool {
	changed := false
	for id, rec := range s.records {
		if recordSelected(rec, filter) {
			delete(s.records, id)
			changed = true
		}
	}
	return changed
}

func (s *memoryStore) Count(_ context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if recordSelected(rec, filter) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
