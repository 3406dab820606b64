// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/invowk/tagprobe/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCommand creates the `tagprobe config` command tree.
func newConfigCommand(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tagprobe configuration",
		Long: `Manage tagprobe configuration.

Configuration is read from config.cue or config.toml in the config directory:
  - Linux: ~/.config/tagprobe
  - macOS: ~/Library/Application Support/tagprobe
  - Windows: %APPDATA%\tagprobe

then from tagprobe.cue or tagprobe.toml in the working directory.
TAGPROBE_* environment variables override file values, for example
TAGPROBE_CONSUMER_PROGRAM=yarn.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			source := path
			if source == "" {
				source = "(defaults)"
			}
			fmt.Fprintf(a.stdout, "# source: %s\n", source)
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory and the file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.Dir()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %s\n", CmdStyle.Render("Config directory:"), dir)
			_, path, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = SubtitleStyle.Render("(none, using defaults)")
			}
			fmt.Fprintf(a.stdout, "%s %s\n", CmdStyle.Render("Config file:"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config.cue into the config directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, created, err := config.WriteDefault("")
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(a.stdout, "%s %s already exists\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(a.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the CUE schema configuration files are validated against",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(a.stdout, config.Schema())
			return err
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.stdout, config.GenerateCUE(cfg))
			return err
		},
	})

	return cfgCmd
}
