package knowledge

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/cli/cmd"
	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/engine/infra/server"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/engine/knowledge/uc"
)

// NewAskCommand answers a single question from the knowledge base.
func NewAskCommand() *cobra.Command {
	var (
		topK      int
		threshold float64
		sourceID  string
	)
	c := &cobra.Command{
		Use:   `ask "<question>"`,
		Short: "Ask a question and print the answer with its sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			opts := retriever.Options{TopK: topK, SourceID: strings.TrimSpace(sourceID)}
			if c.Flags().Changed("threshold") {
				opts.Threshold = &threshold
			}
			in := &uc.QueryInput{Query: strings.Join(args, " "), Options: opts}
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error {
				res, err := deps.State.Query.Execute(ctx, in)
				if err != nil {
					return err
				}
				return out.WriteAnswer(res.Result)
			})
		},
	}
	c.Flags().IntVar(&topK, "top-k", 0, "Maximum passages to retrieve (0 uses knowledge.top_k)")
	c.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity score")
	c.Flags().StringVar(&sourceID, "source-id", "", "Restrict retrieval to one source")
	return c
}
