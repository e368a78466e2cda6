// Package sources defines the registry that tracks every ingested source and
// the status of its latest ingestion run.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/kbchat/engine/knowledge"
)

// StatusUpdate is the outcome written back after an ingestion run.
type StatusUpdate struct {
	Status     knowledge.SourceStatus
	ChunkCount int
	Error      string
}

// Repository persists sources. Get, UpdateStatus and Delete return
// knowledge.ErrSourceNotFound for unknown IDs.
type Repository interface {
	Create(ctx context.Context, src *knowledge.Source) error
	Get(ctx context.Context, id string) (*knowledge.Source, error)
	FindByOrigin(ctx context.Context, origin string) (*knowledge.Source, error)
	List(ctx context.Context) ([]knowledge.Source, error)
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) error
	Delete(ctx context.Context, id string) error
}

// ValidateNew checks the fields every repository requires on Create.
func ValidateNew(src *knowledge.Source) error {
	if src == nil {
		return errors.New("sources: source is required")
	}
	if strings.TrimSpace(src.ID) == "" {
		return errors.New("sources: id is required")
	}
	if strings.TrimSpace(src.Name) == "" {
		return errors.New("sources: name is required")
	}
	if src.Status == "" {
		src.Status = knowledge.StatusPending
	}
	if !src.Status.Valid() {
		return fmt.Errorf("sources: invalid status %q", src.Status)
	}
	return nil
}

// ValidateUpdate rejects statuses outside the known set.
func ValidateUpdate(upd StatusUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("sources: invalid status %q", upd.Status)
	}
	if upd.ChunkCount < 0 {
		return fmt.Errorf("sources: chunk count must be non-negative, got %d", upd.ChunkCount)
	}
	return nil
}

// NotFound wraps knowledge.ErrSourceNotFound with the missing id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", knowledge.ErrSourceNotFound, id)
}
