package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/kbchat/engine/knowledge/blob"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/compozy/kbchat/pkg/logger"
)

type startupIngestExecutor interface {
	Execute(context.Context, *uc.IngestInput) (*uc.IngestOutput, error)
}

// globber is implemented by blob stores that can enumerate their contents.
type globber interface {
	Glob(pattern string) ([]string, error)
}

var _ globber = (*blob.FileStore)(nil)

// ingestKnowledgeOnStart ingests every blob matching the configured glob
// patterns. Files already registered are reprocessed in place. A failing file
// is logged and does not stop the others.
func ingestKnowledgeOnStart(
	ctx context.Context,
	exec startupIngestExecutor,
	blobs blob.Store,
	patterns []string,
	timeout time.Duration,
) error {
	patterns = compactPatterns(patterns)
	if len(patterns) == 0 {
		return nil
	}
	lister, ok := blobs.(globber)
	if !ok {
		return fmt.Errorf("knowledge: startup ingest requires the filesystem blob provider, got %T", blobs)
	}
	files, err := collectStartupFiles(lister, patterns)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Info("Startup knowledge ingestion triggered", "patterns", patterns, "files", len(files))
	failed := 0
	chunks := 0
	for _, name := range files {
		out, err := runStartupIngest(ctx, exec, timeout, name)
		if err != nil {
			failed++
			log.Warn("Startup ingestion failed", "file", name, "error", err)
			continue
		}
		chunks += out.Chunks()
	}
	log.Info("Startup knowledge ingestion completed",
		"files", len(files),
		"failed", failed,
		"chunks", chunks,
	)
	return nil
}

func runStartupIngest(
	ctx context.Context,
	exec startupIngestExecutor,
	timeout time.Duration,
	name string,
) (*uc.IngestOutput, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	return exec.Execute(runCtx, &uc.IngestInput{FileName: name})
}

func compactPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// collectStartupFiles expands patterns in order and drops duplicates.
func collectStartupFiles(lister globber, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range patterns {
		matches, err := lister.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}
