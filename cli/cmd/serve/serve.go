package serve

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/compozy/kbchat/engine/infra/server"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

const productionEnvironment = "production"

// NewServeCommand starts the HTTP API.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the knowledge chat API server",
		RunE:    runServe,
	}
	cmd.Flags().String("host", "", "Host interface to bind (overrides server.host)")
	cmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return errors.New("configuration missing from context")
	}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid --port %d: must be between 1 and 65535", port)
		}
		cfg.Server.Port = port
	}
	if cfg.Runtime.Environment == productionEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.FromContext(ctx).Info("Starting kbchat server",
		"environment", cfg.Runtime.Environment,
		"generation_mode", cfg.Generation.Mode,
	)
	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	return srv.Run()
}
