package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/chatrelay/pkg/cli"
	"github.com/haivivi/chatrelay/pkg/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or validate the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(configFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return cli.Output(cfg.Redacted(), cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout()})
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if _, err := config.Load(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "o", "yaml", "output format (yaml, json)")
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
