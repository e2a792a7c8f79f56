package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voicebridge/internal/cache"
	"voicebridge/internal/channel"
	"voicebridge/internal/config"
	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Secrets such as GEMINI_API_KEY may live in a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("cannot load .env", "err", err)
	}

	root := &cobra.Command{
		Use:   "voicebridge",
		Short: "voicebridge: transcribe and translate chat audio messages",
		Long:  "voicebridge watches chat rooms for audio attachments and replies with a transcription and a translation on request.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.voicebridge/config.json)")

	daemon := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background service",
	}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(transcribeCmd())
	root.AddCommand(cacheCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one built from cfg. The
// returned closer releases the log file, if any.
func setupLogger(cfg *config.Config) (func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "cache", cfg.Cache.DBPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled channels",
		Long:  "Connects the enabled chat platforms (Slack, Telegram, Discord, Webhook) and serves until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Translation.APIKey == "" {
		logger.Warn("translation.apiKey is empty; translations will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	channels := buildChannels(cfg)
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable one under channels.* in %s", cfgPath)
	}

	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch domain.Channel) {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(ctx, p.engine); err != nil {
				errCh <- fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}(ch)
	}

	go p.cleanLoop(ctx, 10*time.Minute)

	logger.Info("voicebridge started. Press Ctrl+C to stop.", "version", version, "channels", len(channels))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("channel stopped", "err", runErr)
		stop()
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out with fulfillments still running", "active", len(p.dispatcher.ListActive()))
		return fmt.Errorf("shutdown timed out")
	}
	logger.Info("shutdown complete")
	return runErr
}

// buildChannels returns the enabled channels. Telegram and Discord share
// one payload reference table.
func buildChannels(cfg *config.Config) []domain.Channel {
	var out []domain.Channel
	refs := channel.NewPayloadRefs(0)
	ch := cfg.Channels

	// Slack and Telegram audio is handed to the transcription service
	// through the media proxy on the webhook server.
	var media *channel.MediaProxy
	if ch.Slack.Enabled || ch.Telegram.Enabled {
		media = channel.NewMediaProxy(channel.MediaProxyConfig{
			PublicURL: mediaPublicURL(ch.Webhook),
			Logger:    logger,
		})
	}

	if ch.Slack.Enabled {
		out = append(out, channel.NewSlack(channel.SlackConfig{
			BotToken: ch.Slack.BotToken,
			AppToken: ch.Slack.AppToken,
			Media:    media,
			Logger:   logger,
		}))
	}
	if ch.Telegram.Enabled {
		out = append(out, channel.NewTelegram(channel.TelegramConfig{
			Token:     ch.Telegram.Token,
			AllowFrom: ch.Telegram.AllowFrom,
			ParseMode: ch.Telegram.ParseMode,
			Refs:      refs,
			Media:     media,
			Logger:    logger,
		}))
	}
	if ch.Discord.Enabled {
		out = append(out, channel.NewDiscord(channel.DiscordConfig{
			Token:   ch.Discord.Token,
			GuildID: ch.Discord.GuildID,
			Refs:    refs,
			Logger:  logger,
		}))
	}
	// The webhook server also hosts the metrics endpoint and media proxy.
	if ch.Webhook.Enabled || cfg.Metrics.Enabled || media != nil {
		wcfg := channel.WebhookConfig{
			Port:          ch.Webhook.Port,
			Secret:        ch.Webhook.Secret,
			CallbackURL:   ch.Webhook.CallbackURL,
			Media:         media,
			DisableEvents: !ch.Webhook.Enabled,
			Logger:        logger,
		}
		if cfg.Metrics.Enabled {
			wcfg.MetricsPath = cfg.Metrics.Endpoint
			wcfg.Metrics = metrics.Default.Handler()
		}
		out = append(out, channel.NewWebhook(wcfg))
	}
	return out
}

func mediaPublicURL(wh config.WebhookConfig) string {
	if wh.PublicURL != "" {
		return wh.PublicURL
	}
	port := wh.Port
	if port == 0 {
		port = 9090
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

func transcribeCmd() *cobra.Command {
	var (
		lang  string
		msgID string
	)
	cmd := &cobra.Command{
		Use:   "transcribe [audio-url]",
		Short: "Transcribe and translate one audio file and print the reply",
		Long:  "Runs a single fulfillment against the configured services and cache, printing the reply instead of posting it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
			}
			if lang == "" {
				lang = cfg.Interaction.DefaultLanguage
			}
			lang = strings.ToLower(lang)
			if !domain.IsSupportedLanguage(lang) {
				return fmt.Errorf("unsupported language %q (supported: %s)", lang, strings.Join(domain.SupportedLanguages, ", "))
			}
			if msgID == "" {
				msgID = args[0]
			}

			p, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw := &consoleGateway{out: cmd.OutOrStdout()}
			return p.worker.Run(ctx, gw, domain.FulfillmentRequest{
				AudioURL:          args[0],
				OriginalMessageID: msgID,
				TargetLanguage:    lang,
				UserID:            "console",
				RoomID:            "console",
				Channel:           "console",
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language (default: interaction.defaultLanguage)")
	cmd.Flags().StringVar(&msgID, "id", "", "message ID used as cache key (default: the audio URL)")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached result counts per operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Cache.Backend != "sqlite" {
				return fmt.Errorf("cache stats needs the sqlite backend, got %q", cfg.Cache.Backend)
			}
			store, err := cache.NewSQLiteStore(cfg.Cache.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", cfg.Cache.DBPath)
			for _, op := range []domain.Operation{domain.OpTranscription, domain.OpTranslation} {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-14s %d\n", op, counts[op])
			}
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. interaction.defaultLanguage)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. cache.backend memory)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, k := range config.SortedPaths(paths) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
