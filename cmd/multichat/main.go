package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"MultiChat/internal/cache"
	"MultiChat/internal/chatbot"
	"MultiChat/internal/completion"
	"MultiChat/internal/config"
	"MultiChat/internal/history"
	"MultiChat/internal/session"
	"MultiChat/internal/telemetry"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "multichat",
		Short: "Chat with OpenAI-compatible platforms from the terminal",
		Long: `multichat is an interactive terminal client for OpenAI-compatible
chat-completion platforms.

Platforms are defined in a JSON document (created from a bundled default on
first run). Each platform's secret is read from {PLATFORM}_API_TOKEN, which
may also be set in a .env file in the working directory. Conversations are
kept in a local SQLite database and can be continued, renamed, deleted or
exported later.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Platform configuration file")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "Chat history database")
	cmd.Flags().StringVar(&cfg.Platform, "platform", "", "Platform to select at startup (default: first configured)")
	cmd.Flags().StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log files")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&cfg.Telemetry, "telemetry", false, "Export traces and metrics to the log directory")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	clientOpts := []completion.ClientOption{completion.WithLogger(logger)}
	if cfg.Telemetry {
		tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdown()
		clientOpts = append(clientOpts, completion.WithTracer(tracer), completion.WithMeter(meter))
	}
	if cfg.Debug {
		logger.Debug("debug mode enabled")
	}

	resolver := config.NewResolver(cfg.ConfigPath)
	if _, err := resolver.Platforms(); err != nil {
		return err
	}

	store := history.New(cfg.DBPath, history.WithLogger(logger))
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	client := completion.NewClient(resolver, clientOpts...)
	bot := chatbot.NewChatBot(chatbot.FromClient(client), store, resolver,
		chatbot.WithIO(in, out),
		chatbot.WithLogger(logger),
		chatbot.WithModelCache(cache.NewModelCache(cache.DefaultTTL)),
		chatbot.WithState(session.State{Platform: cfg.Platform}),
	)

	logger.Info("multichat started", "config", resolver.Path(), "db", store.Path(), "platform", cfg.Platform)
	err = bot.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("chat session ended with error", "error", err)
		return err
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
