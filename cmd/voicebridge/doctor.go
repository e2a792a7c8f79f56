package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"voicebridge/internal/cache"
	"voicebridge/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the configuration and services",
		Long: `Verifies that the configuration loads, the result cache is writable,
the transcription service is reachable, and at least one channel is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("voicebridge doctor v%s\n\n", version)

			var passed, failed, warned int
			pass := func(check, detail string) { printCheck("PASS", check, detail); passed++ }
			fail := func(check, detail string) { printCheck("FAIL", check, detail); failed++ }
			warn := func(check, detail string) { printCheck("WARN", check, detail); warned++ }

			if _, err := os.Stat(cfgPath); err != nil {
				fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'voicebridge init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				fail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			pass("Config validation", "valid")

			if cfg.Cache.Backend == "sqlite" {
				if err := checkCache(cmd.Context(), cfg.Cache.DBPath); err != nil {
					fail("Result cache", err.Error())
				} else {
					pass("Result cache", cfg.Cache.DBPath)
				}
			} else {
				warn("Result cache", "memory backend; results are lost on restart")
			}

			if err := checkReachable(cfg.Transcription.Endpoint); err != nil {
				fail("Transcription", err.Error())
			} else {
				pass("Transcription", cfg.Transcription.Endpoint)
			}

			if cfg.Translation.APIKey == "" {
				fail("Translation", "no API key (set translation.apiKey or GEMINI_API_KEY)")
			} else {
				pass("Translation", cfg.Translation.Model)
			}

			enabled := 0
			for name, on := range map[string]bool{
				"slack":    cfg.Channels.Slack.Enabled,
				"telegram": cfg.Channels.Telegram.Enabled,
				"discord":  cfg.Channels.Discord.Enabled,
				"webhook":  cfg.Channels.Webhook.Enabled,
			} {
				if on {
					enabled++
					pass("Channel", name)
				}
			}
			if enabled == 0 {
				fail("Channels", "none enabled")
			}
			needsMedia := cfg.Channels.Slack.Enabled || cfg.Channels.Telegram.Enabled
			if needsMedia {
				pass("Media proxy", mediaPublicURL(cfg.Channels.Webhook)+"/media/ (must be reachable from the transcription service)")
			}
			if cfg.Channels.Webhook.Enabled || cfg.Metrics.Enabled || needsMedia {
				if err := checkPort(cfg.Channels.Webhook.Port); err != nil {
					warn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.Webhook.Port, err))
				} else {
					pass("Webhook port", fmt.Sprintf(":%d available", cfg.Channels.Webhook.Port))
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkCache opens the cache database, which creates the schema if needed.
func checkCache(ctx context.Context, dbPath string) error {
	store, err := cache.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Count(ctx)
	return err
}

// checkReachable dials the host of rawURL.
func checkReachable(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	conn.Close()
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printCheck(status, check, detail string) {
	fmt.Printf("  [%s] %-20s %s\n", status, check, detail)
}
