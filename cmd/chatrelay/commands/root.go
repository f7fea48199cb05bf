package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/chatrelay/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Chat bot relay with per-user ordered replies",
	Long: `chatrelay - answers chat messages through an LLM, one message at a
time per user, with many users served in parallel.

The bot connects to a chat bridge over a websocket, transcribes voice
notes, generates a reply, and sends it back as text and synthesized audio.

Configuration is read from --config, $CHATRELAY_CONFIG, or ./chatrelay.yaml.

Examples:
  # Serve the bridge
  chatrelay run --config chatrelay.yaml

  # Replay a scripted conversation without a bridge or API keys
  chatrelay simulate -f script.yaml --echo

  # Inspect the effective configuration (secrets masked)
  chatrelay config show -o json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CHATRELAY_CONFIG or chatrelay.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
}

// loadConfig reads the config selected by --config or the environment.
func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

// newLogger builds the process logger from flags and the log section. The
// flags win over the file.
func newLogger(w io.Writer, lc config.Log) (*slog.Logger, error) {
	level, err := parseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON || lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// stderr is swapped in tests.
var stderr io.Writer = os.Stderr
