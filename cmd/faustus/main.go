package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/faustus/internal/config"
	"github.com/zhouzirui/faustus/internal/logging"
)

// cfg is filled by the root command before any subcommand runs.
var cfg *config.Config

var flags struct {
	logLevel  string
	chatURL   string
	storePath string
	timeout   time.Duration
	addr      string
}

var rootCmd = &cobra.Command{
	Use:           "faustus",
	Short:         "faustus is a chat front-end for a streaming chat endpoint",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment")
		}

		loaded, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "load configuration")
		}
		applyFlags(cmd, loaded)
		cfg = loaded

		return logging.Setup(cfg.Log.Level, os.Stderr)
	},
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("log-level") {
		c.Log.Level = flags.logLevel
	}
	if cmd.Flags().Changed("chat-url") {
		c.Client.ChatURL = flags.chatURL
	}
	if cmd.Flags().Changed("store") {
		c.Client.StorePath = flags.storePath
	}
	if cmd.Flags().Changed("timeout") {
		c.Client.RequestTimeout = flags.timeout
	}
	if cmd.Flags().Changed("addr") {
		switch cmd.Name() {
		case "serve":
			c.Server.Addr = flags.addr
		case "ui":
			c.UI.Addr = flags.addr
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.chatURL, "chat-url", "", "chat endpoint used by the chat and ui commands")
	pf.StringVar(&flags.storePath, "store", "", "sqlite file holding the conversations")
	pf.DurationVar(&flags.timeout, "timeout", 0, "limit on one exchange, 0 disables it")

	uiCmd := newUICommand()
	serveCmd := newServeCommand()
	for _, cmd := range []*cobra.Command{uiCmd, serveCmd} {
		cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address")
	}
	rootCmd.AddCommand(newChatCommand(), uiCmd, serveCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("faustus failed")
		os.Exit(1)
	}
}
