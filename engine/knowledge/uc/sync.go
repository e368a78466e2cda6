package uc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/extract"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/records"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/pkg/logger"
)

// SyncInput overrides the configured table when Table is set.
type SyncInput struct {
	Table string
}

type SyncOutput struct {
	Sources int
	Chunks  int
	Failed  int
	Reports []ingest.Report
}

// Sync ingests every row of a table as its own synthetic source keyed by
// records.Origin, with the same replace semantics as documents.
type Sync struct {
	repo     sources.Repository
	provider records.Provider
	pipeline *ingest.Pipeline
	runner   *ingest.Runner
	spec     records.Spec
}

func NewSync(
	repo sources.Repository,
	provider records.Provider,
	pipeline *ingest.Pipeline,
	runner *ingest.Runner,
	spec records.Spec,
) *Sync {
	return &Sync{repo: repo, provider: provider, pipeline: pipeline, runner: runner, spec: spec}
}

func (uc *Sync) Execute(ctx context.Context, in *SyncInput) (*SyncOutput, error) {
	if uc.provider == nil {
		return nil, knowledge.Wrap(knowledge.ErrConfiguration, nil, "records provider requires a postgres or sqlite database")
	}
	spec := uc.spec
	if in != nil && strings.TrimSpace(in.Table) != "" {
		spec.Table = strings.TrimSpace(in.Table)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	rows, err := uc.provider.Fetch(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	log := logger.FromContext(ctx).With("table", spec.Table)
	out := &SyncOutput{Reports: make([]ingest.Report, 0, len(rows))}
	for _, row := range rows {
		report, err := uc.syncRow(ctx, spec, row)
		out.Sources++
		if err != nil {
			out.Failed++
			log.Warn("Record sync failed", "key", row.Key, "error", err)
			if errors.Is(err, knowledge.ErrConfiguration) {
				return out, err
			}
		}
		out.Chunks += report.Persisted
		out.Reports = append(out.Reports, report)
	}
	log.Info("Records synced", "sources", out.Sources, "chunks", out.Chunks, "failed", out.Failed)
	return out, nil
}

func (uc *Sync) syncRow(ctx context.Context, spec records.Spec, row records.Row) (ingest.Report, error) {
	src, err := uc.recordSource(ctx, spec, row)
	if err != nil {
		return ingest.Report{}, err
	}
	var report ingest.Report
	err = uc.runner.Run(ctx, src.ID, func(ctx context.Context) error {
		var runErr error
		report, runErr = uc.pipeline.Run(ctx, src, []byte(records.Render(row)))
		return runErr
	})
	return report, err
}

func (uc *Sync) recordSource(ctx context.Context, spec records.Spec, row records.Row) (*knowledge.Source, error) {
	origin := records.Origin(spec.Table, row.Key)
	src, err := uc.repo.FindByOrigin(ctx, origin)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, knowledge.ErrSourceNotFound) {
		return nil, err
	}
	id, err := core.NewID()
	if err != nil {
		return nil, err
	}
	src = &knowledge.Source{
		ID:       id.String(),
		Name:     records.Name(spec.Table, row.Key),
		Format:   string(extract.FormatTXT),
		Origin:   origin,
		Category: spec.Category,
		Status:   knowledge.StatusPending,
	}
	if err := uc.repo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create record source: %w", err)
	}
	return src, nil
}
