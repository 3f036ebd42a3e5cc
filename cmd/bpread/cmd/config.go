package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/bpread/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
	Long: `Inspect the effective configuration or write a default configuration file.

Configuration is read from bpread.yaml in the search paths, then from .env and
BPREAD_* environment variables, then from command-line flags.`,
}

var configInitCmd = &cobra.Command{
	Use:          "init [file]",
	Short:        "Write a configuration file with default values",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if force, _ := cmd.Flags().GetBool("force"); !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return fmt.Errorf("failed to write configuration: %w", err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		redactSecrets(&cfg)

		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case outputFormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		case outputFormatYAML:
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		}
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatYAML, outputFormatJSON)
	},
}

var configPathsCmd = &cobra.Command{
	Use:          "paths",
	Short:        "List configuration search paths",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "Configuration file used: %s\n", used)
		} else {
			_, _ = fmt.Fprintln(out, "Configuration file used: none")
		}
		_, _ = fmt.Fprintln(out, "Search paths:")
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintf(out, "  %s\n", p)
		}
		_, err := fmt.Fprintf(out, "Environment prefix: %s_\n", config.EnvPrefix)
		return err
	},
}

func redactSecrets(cfg *config.Config) {
	if cfg.Debug.Redis.Password != "" {
		cfg.Debug.Redis.Password = redacted
	}
	if cfg.Source.Blob.AccountKey != "" {
		cfg.Source.Blob.AccountKey = redacted
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathsCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().StringP("format", "f", outputFormatYAML, "output format (yaml, json)")
}
