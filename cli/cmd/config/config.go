package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compozy/kbchat/cli/cmd"
	appconfig "github.com/compozy/kbchat/pkg/config"
)

// NewConfigCommand groups configuration inspection commands.
func NewConfigCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection and diagnostics",
	}
	c.AddCommand(showCmd(), diagnoseCmd())
	return c
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg := appconfig.FromContext(c.Context())
			if cfg == nil {
				return errors.New("configuration missing from context")
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, err = c.OutOrStdout().Write(data)
			return err
		},
	}
}

func diagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "List credentials and endpoints the configured services still need",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg := appconfig.FromContext(c.Context())
			if cfg == nil {
				return errors.New("configuration missing from context")
			}
			missing := appconfig.Diagnose(cfg)
			w := c.OutOrStdout()
			if out, err := cmd.Output(c); err == nil && out.JSON() {
				if missing == nil {
					missing = []appconfig.MissingValue{}
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"missing": missing})
			}
			if len(missing) == 0 {
				_, err := fmt.Fprintln(w, "Configuration complete")
				return err
			}
			t := table.New().
				Headers("KEY", "ENV", "SERVICE", "REASON").
				StyleFunc(func(_, _ int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) })
			for _, m := range missing {
				t.Row(m.Key, m.EnvVar, m.Service, m.Reason)
			}
			_, err := fmt.Fprintln(w, t.Render())
			return err
		},
	}
}
