package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/haivivi/chatrelay/cmd/chatrelay/internal/build"
	"github.com/haivivi/chatrelay/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, build.String())
		if verbose {
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
			fmt.Fprintf(out, "  config: %s\n", config.ResolvePath(configPath))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
