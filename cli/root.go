package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/compozy/kbchat/cli/cmd/config"
	"github.com/compozy/kbchat/cli/cmd/knowledge"
	"github.com/compozy/kbchat/cli/cmd/serve"
	"github.com/compozy/kbchat/cli/helpers"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
	"github.com/compozy/kbchat/pkg/version"
)

const defaultConfigFile = "kbchat.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kbchat",
		Short:         "Knowledge base chat: ingest documents and answer questions from them",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the YAML configuration file")
	flags.String("env-file", ".env", "Path to an environment file loaded before configuration")
	flags.String("log-level", "", "Log level (debug, info, warn, error); defaults to runtime.log_level")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("format", string(helpers.OutputFormatText), "Output format (text, json)")
	root.AddCommand(
		serve.NewServeCommand(),
		knowledge.NewIngestCommand(),
		knowledge.NewAskCommand(),
		knowledge.NewSyncCommand(),
		knowledge.NewSourcesCommand(),
		configcmd.NewConfigCommand(),
	)
	return root
}

// SetupGlobalConfig loads the env file, configuration and logger, and
// attaches the config and logger to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	// merges persistent flags into cmd.Flags() when called before Execute
	cmd.InheritedFlags()
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if _, err := helpers.LoadEnvFile(envFile); err != nil {
		return err
	}
	configFile, err := resolveConfigFile(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, config.LoadOptions{File: configFile})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") || level == "" {
		level = cfg.Runtime.LogLevel
	}
	log := logger.SetupLogger(level, logJSON || cfg.Runtime.LogJSON, logSource)
	ctx = logger.ContextWithLogger(ctx, log)
	config.LogDiagnostics(ctx, cfg)
	cmd.SetContext(config.ContextWithConfig(ctx, cfg))
	return nil
}

// resolveConfigFile returns the file to load. The default file is optional;
// an explicitly requested one must exist.
func resolveConfigFile(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !cmd.Flags().Changed("config") {
			return "", nil
		}
		return "", fmt.Errorf("config file %s: %w", path, err)
	}
	return path, nil
}

// Execute runs the root command and prints a failure in the requested format.
func Execute() int {
	root := RootCmd()
	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}
	format := helpers.OutputFormatText
	if raw, flagErr := cmd.Flags().GetString("format"); flagErr == nil {
		if parsed, parseErr := helpers.ParseOutputFormat(raw); parseErr == nil {
			format = parsed
		}
	}
	fmt.Fprintln(os.Stderr, helpers.FormatError(err, format))
	return 1
}
