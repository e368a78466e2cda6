package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/engine/infra/server"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

// HandlerFunc runs a one-shot command against freshly wired dependencies.
type HandlerFunc func(ctx context.Context, deps *server.Dependencies, out *helpers.OutputWriter) error

// Output builds the writer selected by the --format flag.
func Output(cmd *cobra.Command) (*helpers.OutputWriter, error) {
	raw, err := cmd.Flags().GetString("format")
	if err != nil {
		raw = ""
	}
	format, err := helpers.ParseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return helpers.NewOutputWriter(cmd.OutOrStdout(), format), nil
}

// ExecuteCommand wires dependencies from the configuration attached to the
// command context, runs handler and releases everything afterwards.
func ExecuteCommand(cmd *cobra.Command, handler HandlerFunc) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return errors.New("configuration missing from context")
	}
	out, err := Output(cmd)
	if err != nil {
		return err
	}
	deps, err := server.SetupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := deps.Close(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to release dependencies", "error", err)
		}
	}()
	return handler(ctx, deps, out)
}
