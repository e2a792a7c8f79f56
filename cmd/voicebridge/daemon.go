package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.voicebridge.serve"
	systemdUnit  = "voicebridge.service"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install voicebridge as a user service (launchd/systemd)",
		Long:  "Writes a service file that runs 'voicebridge serve' with the current config at login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				return writeServiceFile(launchdPath(home), renderLaunchd(execPath, cfgPath, filepath.Join(home, ".voicebridge", "logs")),
					"launchctl load "+launchdPath(home))
			case "linux":
				return writeServiceFile(systemdPath(home), renderSystemd(execPath, cfgPath),
					"systemctl --user daemon-reload && systemctl --user enable --now voicebridge")
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the voicebridge user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPath(home)
			case "linux":
				path = systemdPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

func writeServiceFile(path, content, hint string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Printf("Daemon installed: %s\n", path)
	fmt.Printf("To start: %s\n", hint)
	return nil
}

func renderLaunchd(execPath, cfgPath, logDir string) string {
	os.MkdirAll(logDir, 0o755)
	r := strings.NewReplacer(
		"{{LABEL}}", launchdLabel,
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LOG}}", filepath.Join(logDir, "voicebridge.log"),
		"{{ERR_LOG}}", filepath.Join(logDir, "voicebridge-error.log"),
	)
	return r.Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath string) string {
	r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
	return r.Replace(systemdTemplate)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=voicebridge audio transcription and translation bot
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
