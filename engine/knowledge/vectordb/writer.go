package vectordb

import (
	"context"
	"errors"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/pkg/logger"
)

// ItemResult is the outcome of inserting one record.
type ItemResult struct {
	ID    string
	Index int
	Err   error
}

func (r ItemResult) OK() bool { return r.Err == nil }

// BatchReport aggregates per-record insert outcomes so callers can detect
// partial failure without reading logs.
type BatchReport struct {
	Items    []ItemResult
	Inserted int
	Failed   int
}

// Errors returns the failed items' errors joined, or nil.
func (b BatchReport) Errors() error {
	var errs []error
	for _, item := range b.Items {
		if item.Err != nil {
			errs = append(errs, item.Err)
		}
	}
	return errors.Join(errs...)
}

// Writer owns the replace semantics for a source's vectors.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// ReplaceVectors deletes every record of sourceID and then inserts records
// one at a time. A failed delete aborts with ErrVectorStore and inserts
// nothing. Insert failures are recorded per item and do not stop the batch.
// Records always carry sourceID, whatever the caller set.
func (w *Writer) ReplaceVectors(ctx context.Context, sourceID string, records []Record) (BatchReport, error) {
	if sourceID == "" {
		return BatchReport{}, knowledge.Wrap(knowledge.ErrVectorStore, nil, "source id is required")
	}
	if err := w.store.Delete(ctx, Filter{SourceID: sourceID}); err != nil {
		return BatchReport{}, knowledge.Wrap(knowledge.ErrVectorStore, err, "delete vectors of %s", sourceID)
	}
	log := logger.FromContext(ctx)
	report := BatchReport{Items: make([]ItemResult, 0, len(records))}
	for i := range records {
		rec := records[i]
		rec.SourceID = sourceID
		item := ItemResult{ID: rec.ID, Index: i}
		if err := w.store.Upsert(ctx, []Record{rec}); err != nil {
			item.Err = knowledge.Wrap(knowledge.ErrVectorStore, err, "insert %s", rec.ID)
			report.Failed++
			log.Warn("Vector insert failed", "source_id", sourceID, "record_id", rec.ID, "error", err)
		} else {
			report.Inserted++
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

// DeleteSource removes every vector owned by sourceID.
func (w *Writer) DeleteSource(ctx context.Context, sourceID string) error {
	if err := w.store.Delete(ctx, Filter{SourceID: sourceID}); err != nil {
		return knowledge.Wrap(knowledge.ErrVectorStore, err, "delete vectors of %s", sourceID)
	}
	return nil
}

// CountSource returns how many vectors sourceID currently owns.
func (w *Writer) CountSource(ctx context.Context, sourceID string) (int, error) {
	n, err := w.store.Count(ctx, Filter{SourceID: sourceID})
	if err != nil {
		return 0, knowledge.Wrap(knowledge.ErrVectorStore, err, "count vectors of %s", sourceID)
	}
	return n, nil
}
