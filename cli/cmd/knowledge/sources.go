package knowledge

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/cli/cmd"
	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/engine/infra/server"
)

// NewSourcesCommand groups the source registry commands.
func NewSourcesCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and manage registered sources",
	}
	c.AddCommand(sourcesListCmd(), sourcesGetCmd(), sourcesDeleteCmd())
	return c
}

func sourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered source",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error {
				list, err := deps.State.ListSources.Execute(ctx)
				if err != nil {
					return err
				}
				return out.WriteSources(list)
			})
		},
	}
}

func sourcesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one source with its status and failure reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error {
				src, err := deps.State.GetSource.Execute(ctx, args[0])
				if err != nil {
					return err
				}
				return out.WriteSource(src)
			})
		},
	}
}

func sourcesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a source and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(c, func(ctx context.Context, deps *server.Dependencies, _ *helpers.OutputWriter) error {
				return deps.State.DeleteSource.Execute(ctx, args[0])
			})
		},
	}
}
