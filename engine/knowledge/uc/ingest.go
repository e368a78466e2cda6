package uc

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/blob"
	"github.com/compozy/kbchat/engine/knowledge/extract"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/pkg/logger"
)

// IngestInput names the document to (re)ingest. SourceID reprocesses a known
// source; otherwise FileURL or FileName locates the blob, and a source with
// the same origin is reused so reprocessing replaces its chunks.
type IngestInput struct {
	SourceID string
	FileName string
	FileURL  string
	Format   string
	Category string
	Async    bool
}

type IngestOutput struct {
	Source *knowledge.Source
	Report *ingest.Report
}

// Chunks is the number of chunks persisted, zero for async runs.
func (o *IngestOutput) Chunks() int {
	if o == nil || o.Report == nil {
		return 0
	}
	return o.Report.Persisted
}

type Ingest struct {
	repo     sources.Repository
	blobs    blob.Store
	pipeline *ingest.Pipeline
	runner   *ingest.Runner
}

func NewIngest(repo sources.Repository, blobs blob.Store, pipeline *ingest.Pipeline, runner *ingest.Runner) *Ingest {
	return &Ingest{repo: repo, blobs: blobs, pipeline: pipeline, runner: runner}
}

func (uc *Ingest) Execute(ctx context.Context, in *IngestInput) (*IngestOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	src, err := uc.resolveSource(ctx, in)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("source_id", src.ID)
	var report ingest.Report
	// Status is reset inside the job, after the runner has claimed src.ID.
	job := func(ctx context.Context) error {
		if err := uc.reset(ctx, src); err != nil {
			report = ingest.Report{SourceID: src.ID, Status: src.Status}
			return err
		}
		var runErr error
		report, runErr = uc.run(ctx, src)
		return runErr
	}
	if in.Async {
		snapshot := *src
		snapshot.Status = knowledge.StatusPending
		snapshot.Error = ""
		if err := uc.runner.Start(ctx, src.ID, job); err != nil {
			return nil, err
		}
		log.Info("Ingestion scheduled", "origin", src.Origin)
		return &IngestOutput{Source: &snapshot}, nil
	}
	if err := uc.runner.Run(ctx, src.ID, job); err != nil {
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			return nil, err
		}
		return &IngestOutput{Source: src, Report: &report}, err
	}
	return &IngestOutput{Source: src, Report: &report}, nil
}

func (uc *Ingest) reset(ctx context.Context, src *knowledge.Source) error {
	if err := uc.repo.UpdateStatus(ctx, src.ID, sources.StatusUpdate{
		Status:     knowledge.StatusPending,
		ChunkCount: src.ChunkCount,
	}); err != nil {
		return fmt.Errorf("reset source status: %w", err)
	}
	src.Status = knowledge.StatusPending
	src.Error = ""
	return nil
}

func (uc *Ingest) run(ctx context.Context, src *knowledge.Source) (ingest.Report, error) {
	obj, err := uc.blobs.Download(ctx, src.Origin)
	if err != nil {
		uc.pipeline.Fail(ctx, src, err)
		return ingest.Report{SourceID: src.ID, Status: knowledge.StatusError}, err
	}
	if src.Format == "" {
		src.Format = string(extract.Resolve(obj.Name, obj.Data))
	}
	return uc.pipeline.Run(ctx, src, obj.Data)
}

func (uc *Ingest) resolveSource(ctx context.Context, in *IngestInput) (*knowledge.Source, error) {
	if id := strings.TrimSpace(in.SourceID); id != "" {
		src, err := uc.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if src.Origin == "" {
			return nil, fmt.Errorf("%w: source %s has no origin", ErrInvalidInput, id)
		}
		if f := strings.TrimSpace(in.Format); f != "" {
			src.Format = string(extract.ParseFormat(f))
		}
		return src, nil
	}
	origin := strings.TrimSpace(in.FileURL)
	if origin == "" {
		origin = strings.TrimSpace(in.FileName)
	}
	if origin == "" {
		return nil, ErrLocationMissing
	}
	existing, err := uc.repo.FindByOrigin(ctx, origin)
	switch {
	case err == nil:
		if f := strings.TrimSpace(in.Format); f != "" {
			existing.Format = string(extract.ParseFormat(f))
		}
		return existing, nil
	case !errors.Is(err, knowledge.ErrSourceNotFound):
		return nil, fmt.Errorf("find source by origin: %w", err)
	}
	name := displayName(in.FileName, origin)
	format := strings.TrimSpace(in.Format)
	if format == "" {
		format = name
	}
	id, err := core.NewID()
	if err != nil {
		return nil, err
	}
	src := &knowledge.Source{
		ID:       id.String(),
		Name:     name,
		Origin:   origin,
		Category: strings.TrimSpace(in.Category),
		Status:   knowledge.StatusPending,
	}
	if f := extract.ParseFormat(format); f != extract.FormatUnknown {
		src.Format = string(f)
	}
	if err := uc.repo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return src, nil
}

func displayName(fileName, origin string) string {
	if n := strings.TrimSpace(fileName); n != "" {
		return path.Base(n)
	}
	trimmed := origin
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return path.Base(strings.TrimRight(trimmed, "/"))
}
