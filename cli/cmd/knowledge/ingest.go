package knowledge

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/cli/cmd"
	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/engine/infra/server"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

type ingestFlags struct {
	sourceID string
	url      string
	docType  string
	category string
	async    bool
	wait     bool
}

// NewIngestCommand ingests one document into the knowledge base.
func NewIngestCommand() *cobra.Command {
	flags := &ingestFlags{}
	c := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Extract, chunk, embed and store a document",
		Long: `Ingest a document from the blob store by path, by URL, or reprocess a
registered source by id. Reprocessing replaces the source's previous vectors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			in, err := flags.input(args)
			if err != nil {
				return err
			}
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error {
				return runIngest(ctx, deps, out, in, flags.wait)
			})
		},
	}
	c.Flags().StringVar(&flags.sourceID, "source-id", "", "Reprocess an existing source")
	c.Flags().StringVar(&flags.url, "url", "", "Download the document from a URL or blob key")
	c.Flags().StringVar(&flags.docType, "type", "", "Declared document format (pdf, docx, txt); detected when empty")
	c.Flags().StringVar(&flags.category, "category", "", "Category stored on every chunk")
	c.Flags().BoolVar(&flags.async, "async", false, "Register the source and process it in the background")
	c.Flags().BoolVar(&flags.wait, "wait", false, "With --async, poll until the source leaves pending")
	return c
}

func (f *ingestFlags) input(args []string) (*uc.IngestInput, error) {
	in := &uc.IngestInput{
		SourceID: strings.TrimSpace(f.sourceID),
		FileURL:  strings.TrimSpace(f.url),
		Format:   f.docType,
		Category: f.category,
		Async:    f.async,
	}
	if len(args) == 1 {
		in.FileName = strings.TrimSpace(args[0])
	}
	if in.SourceID == "" && in.FileURL == "" && in.FileName == "" {
		return nil, errors.New("a path, --url or --source-id is required")
	}
	if f.wait && !f.async {
		return nil, errors.New("--wait requires --async")
	}
	return in, nil
}

func runIngest(
	ctx context.Context,
	deps *server.Dependencies,
	out *helpers.OutputWriter,
	in *uc.IngestInput,
	wait bool,
) error {
	if cfg := config.FromContext(ctx); cfg != nil && cfg.VectorDB.Provider == "memory" {
		logger.FromContext(ctx).Warn(
			"Vectors are kept in memory and discarded when this command exits",
			"vector_db", cfg.VectorDB.Provider,
		)
	}
	res, err := deps.State.Ingest.Execute(ctx, in)
	if err != nil {
		return err
	}
	summary := helpers.IngestSummary{
		Success: true,
		ID:      res.Source.ID,
		Status:  string(res.Source.Status),
		Chunks:  res.Chunks(),
	}
	if res.Report != nil {
		summary.Status = string(res.Report.Status)
		summary.Failed = len(res.Report.Failed)
	}
	if in.Async {
		summary.Status = string(knowledge.StatusPending)
	}
	if in.Async && wait {
		src, err := ingest.WaitForStatus(ctx, deps.Repo, res.Source.ID, ingest.PollOptionsFromConfig(config.FromContext(ctx)))
		if err != nil {
			return err
		}
		summary.Status = string(src.Status)
		summary.Chunks = src.ChunkCount
		summary.Error = src.Error
		summary.Success = src.Status == knowledge.StatusProcessed
	}
	return out.WriteIngest(summary)
}
