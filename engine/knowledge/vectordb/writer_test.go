package vectordb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/knowledge"
)

type flakyStore struct {
	Store
	deleteErr error
	failIDs   map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, filter Filter) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, filter)
}

func (f *flakyStore) Upsert(ctx context.Context, records []Record) error {
	for _, rec := range records {
		if f.failIDs[rec.ID] {
			return errors.New("insert rejected")
		}
	}
	return f.Store.Upsert(ctx, records)
}

func vec(values ...float32) []float32 { return values }

func TestWriter_ReplaceVectors(t *testing.T) {
	ctx := context.Background()

	t.Run("Should replace previous vectors of the source", func(t *testing.T) {
		store := NewMemoryStore(2)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "other", SourceID: "s2", Embedding: vec(1, 0)},
		}))
		w := NewWriter(store)
		first := []Record{
			{ID: "a", Embedding: vec(1, 0)},
			{ID: "b", Embedding: vec(0, 1)},
			{ID: "c", Embedding: vec(1, 1)},
		}
		report, err := w.ReplaceVectors(ctx, "s1", first)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Inserted)
		report, err = w.ReplaceVectors(ctx, "s1", []Record{{ID: "d", Embedding: vec(1, 0)}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Inserted)
		n, err := w.CountSource(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = w.CountSource(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Should be idempotent for identical input", func(t *testing.T) {
		store := NewMemoryStore(2)
		w := NewWriter(store)
		records := []Record{{ID: "a", Embedding: vec(1, 0)}, {ID: "b", Embedding: vec(0, 1)}}
		_, err := w.ReplaceVectors(ctx, "s1", records)
		require.NoError(t, err)
		_, err = w.ReplaceVectors(ctx, "s1", records)
		require.NoError(t, err)
		n, err := store.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Should stamp the source id on every record", func(t *testing.T) {
		store := NewMemoryStore(2)
		w := NewWriter(store)
		_, err := w.ReplaceVectors(ctx, "s1", []Record{{ID: "a", SourceID: "wrong", Embedding: vec(1, 0)}})
		require.NoError(t, err)
		matches, err := store.Search(ctx, vec(1, 0), SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "s1", matches[0].SourceID)
	})

	t.Run("Should abort when the delete fails", func(t *testing.T) {
		store := &flakyStore{Store: NewMemoryStore(2), deleteErr: errors.New("down")}
		w := NewWriter(store)
		report, err := w.ReplaceVectors(ctx, "s1", []Record{{ID: "a", Embedding: vec(1, 0)}})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrVectorStore)
		assert.Zero(t, report.Inserted)
		n, err := store.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should report partial insert failures", func(t *testing.T) {
		store := &flakyStore{Store: NewMemoryStore(2), failIDs: map[string]bool{"b": true}}
		w := NewWriter(store)
		records := []Record{
			{ID: "a", Embedding: vec(1, 0)},
			{ID: "b", Embedding: vec(0, 1)},
			{ID: "c", Embedding: vec(1, 1)},
		}
		report, err := w.ReplaceVectors(ctx, "s1", records)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Inserted)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Items, 3)
		assert.False(t, report.Items[1].OK())
		assert.Equal(t, 1, report.Items[1].Index)
		assert.ErrorIs(t, report.Errors(), knowledge.ErrVectorStore)
	})

	t.Run("Should require a source id", func(t *testing.T) {
		_, err := NewWriter(NewMemoryStore(2)).ReplaceVectors(ctx, "", nil)
		assert.ErrorIs(t, err, knowledge.ErrVectorStore)
	})
}
