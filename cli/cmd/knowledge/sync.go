package knowledge

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/cli/cmd"
	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/engine/infra/server"
	"github.com/compozy/kbchat/engine/knowledge/uc"
)

// NewSyncCommand ingests the rows of the configured records table.
func NewSyncCommand() *cobra.Command {
	var table string
	c := &cobra.Command{
		Use:   "sync",
		Short: "Ingest every row of a database table as its own source",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error {
				res, err := deps.State.Sync.Execute(ctx, &uc.SyncInput{Table: table})
				if err != nil {
					return err
				}
				return out.WriteSync(helpers.SyncSummary{
					Success: res.Failed == 0,
					Sources: res.Sources,
					Chunks:  res.Chunks,
					Failed:  res.Failed,
				})
			})
		},
	}
	c.Flags().StringVar(&table, "table", "", "Table to read (overrides records.table)")
	return c
}
