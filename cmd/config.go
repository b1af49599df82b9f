package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/paq/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect paq configuration",
	Long: `Inspect paq configuration files and settings.

Examples:
  paq config show                    # Show the resolved configuration
  paq config show --format json      # Show it as JSON
  paq config validate                # Validate .paq.yml in the current directory
  paq config validate --file ci.yml  # Validate a specific file`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration paq would build with, after merging the
configuration file, PAQ_ environment variables and defaults.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var (
	configFormat string
	configFile   string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
	configValidateCmd.Flags().
		StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: .paq.yml)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	options, err := config.Load()
	if err != nil {
		return err
	}
	return writeOptions(cmd.OutOrStdout(), options, configFormat)
}

func writeOptions(out io.Writer, options *config.Options, format string) error {
	switch format {
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(options); err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(options)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	targetFile := configFile
	if targetFile == "" {
		if _, err := os.Stat(".paq.yml"); err != nil {
			return fmt.Errorf("no configuration file found, use --file to specify one")
		}
		targetFile = ".paq.yml"
	}

	if _, err := os.Stat(targetFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist", targetFile)
	}

	v := viper.New()
	v.SetConfigFile(targetFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if _, err := config.LoadFrom(v); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file %s is valid\n", targetFile)
	return nil
}
