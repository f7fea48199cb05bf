package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/chatrelay/pkg/gateway"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the chat bridge and answer messages",
	Long: `Connect to the chat bridge and answer messages until interrupted.

On SIGINT or SIGTERM the bot stops accepting messages, finishes the replies
already queued (bounded by relay.shutdown_timeout), then disconnects.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(sigCtx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}

	codec, err := gateway.CodecByName(cfg.Gateway.Codec)
	if err != nil {
		return errors.Join(err, a.close())
	}
	client, err := gateway.NewClient(gateway.Config{
		URL:          cfg.Gateway.URL,
		Token:        cfg.Gateway.Token,
		Codec:        codec,
		RedialDelay:  cfg.Gateway.RedialDelay.Std(),
		PingInterval: cfg.Gateway.PingInterval.Std(),
		Logger:       logger,
	})
	if err != nil {
		return errors.Join(err, a.close())
	}

	// The bridge stays connected while queued replies drain.
	gwCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	done := make(chan error, 1)
	go func() { done <- client.Run(gwCtx, a.bot) }()

	logger.Info("chatrelay: running",
		"gateway", cfg.Gateway.URL,
		"codec", codec.Name(),
		"storage", cfg.Storage.Kind,
		"dedup", cfg.Dedup.Kind,
		"chat", cfg.Chat.Schema,
		"capacity", cfg.Relay.Capacity,
	)
	<-sigCtx.Done()
	logger.Info("chatrelay: shutting down", "pending", a.dispatcher.Stats().Pending)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout.Std())
	defer cancel()
	// Messages read while draining are rejected and forgotten by dedup, so
	// the dedup store stays open until the bridge is gone.
	shutdownErr := a.dispatcher.Shutdown(shutdownCtx)

	disconnect()
	<-done
	shutdownErr = errors.Join(shutdownErr, a.close())

	st := a.dispatcher.Stats()
	logger.Info("chatrelay: stopped", "completed", st.Completed, "failed", st.Failed, "abandoned", st.Pending)
	return shutdownErr
}
