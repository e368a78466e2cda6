package uc

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
	"github.com/compozy/kbchat/pkg/logger"
)

type ListSources struct {
	repo sources.Repository
}

func NewListSources(repo sources.Repository) *ListSources {
	return &ListSources{repo: repo}
}

func (uc *ListSources) Execute(ctx context.Context) ([]knowledge.Source, error) {
	list, err := uc.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if list == nil {
		list = []knowledge.Source{}
	}
	return list, nil
}

type GetSource struct {
	repo sources.Repository
}

func NewGetSource(repo sources.Repository) *GetSource {
	return &GetSource{repo: repo}
}

func (uc *GetSource) Execute(ctx context.Context, id string) (*knowledge.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrIDMissing
	}
	return uc.repo.Get(ctx, id)
}

// DeleteSource removes a source and every chunk it owns. Chunks go first so
// a failed vector cleanup leaves the source in place for a retry.
type DeleteSource struct {
	repo   sources.Repository
	writer *vectordb.Writer
	runner *ingest.Runner
}

func NewDeleteSource(repo sources.Repository, store vectordb.Store, runner *ingest.Runner) *DeleteSource {
	return &DeleteSource{repo: repo, writer: vectordb.NewWriter(store), runner: runner}
}

func (uc *DeleteSource) Execute(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDMissing
	}
	if _, err := uc.repo.Get(ctx, id); err != nil {
		return err
	}
	if uc.runner != nil && uc.runner.Running(id) {
		return fmt.Errorf("%w: %s", ingest.ErrAlreadyRunning, id)
	}
	if err := uc.writer.DeleteSource(ctx, id); err != nil {
		return err
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete source %q: %w", id, err)
	}
	logger.FromContext(ctx).Info("Source deleted", "source_id", id)
	return nil
}
