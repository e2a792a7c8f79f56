package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"voicebridge/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for voicebridge.
type Config struct {
	General       GeneralConfig       `json:"general" yaml:"general"`
	Interaction   InteractionConfig   `json:"interaction" yaml:"interaction"`
	Transcription TranscriptionConfig `json:"transcription" yaml:"transcription"`
	Translation   TranslationConfig   `json:"translation" yaml:"translation"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Fulfillment   FulfillmentConfig   `json:"fulfillment" yaml:"fulfillment"`
	Channels      ChannelsConfig      `json:"channels" yaml:"channels"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type InteractionConfig struct {
	LanguageSelection bool   `json:"languageSelection" yaml:"languageSelection"` // false = one-click in defaultLanguage
	DefaultLanguage   string `json:"defaultLanguage" yaml:"defaultLanguage"`
	AudioBaseURL      string `json:"audioBaseURL" yaml:"audioBaseURL"` // prefix for host-relative attachment URLs
}

type TranscriptionConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries     int    `json:"maxRetries" yaml:"maxRetries"`
}

type TranslationConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // falls back to GEMINI_API_KEY
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries     int    `json:"maxRetries" yaml:"maxRetries"`
	// FallbackModels are tried in order when the primary model fails.
	FallbackModels     []string `json:"fallbackModels,omitempty" yaml:"fallbackModels,omitempty"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
}

type CacheConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "sqlite" | "memory"
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type FulfillmentConfig struct {
	MaxConcurrent  int `json:"maxConcurrent" yaml:"maxConcurrent"`
	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to specific guild
}

type WebhookConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Port        int    `json:"port" yaml:"port"`
	Secret      string `json:"secret,omitempty" yaml:"secret,omitempty"`
	CallbackURL string `json:"callbackURL,omitempty" yaml:"callbackURL,omitempty"`
	// PublicURL is how the transcription service reaches this server for
	// Slack and Telegram audio (default http://localhost:<port>).
	PublicURL string `json:"publicURL,omitempty" yaml:"publicURL,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.voicebridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicebridge"
	}
	return filepath.Join(home, ".voicebridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Cache.DBPath = ExpandPath(cfg.Cache.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	if cfg.Translation.APIKey == "" {
		cfg.Translation.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if !domain.IsSupportedLanguage(cfg.Interaction.DefaultLanguage) {
		errs = append(errs, fmt.Sprintf("interaction.defaultLanguage must be one of: %s", strings.Join(domain.SupportedLanguages, ", ")))
	}
	if cfg.Interaction.AudioBaseURL != "" && !isHTTPURL(cfg.Interaction.AudioBaseURL) {
		errs = append(errs, "interaction.audioBaseURL must be an http(s) URL")
	}

	if !isHTTPURL(cfg.Transcription.Endpoint) {
		errs = append(errs, "transcription.endpoint must be an http(s) URL")
	}
	if cfg.Transcription.TimeoutSeconds < 1 {
		errs = append(errs, "transcription.timeoutSeconds must be >= 1")
	}
	if cfg.Transcription.MaxRetries < 0 || cfg.Transcription.MaxRetries > 10 {
		errs = append(errs, "transcription.maxRetries must be between 0 and 10")
	}

	if !isHTTPURL(cfg.Translation.APIBase) {
		errs = append(errs, "translation.apiBase must be an http(s) URL")
	}
	if cfg.Translation.Model == "" {
		errs = append(errs, "translation.model is required")
	}
	if cfg.Translation.TimeoutSeconds < 1 {
		errs = append(errs, "translation.timeoutSeconds must be >= 1")
	}
	if cfg.Translation.MaxRetries < 0 || cfg.Translation.MaxRetries > 10 {
		errs = append(errs, "translation.maxRetries must be between 0 and 10")
	}
	if cfg.Translation.RateLimitPerMinute < 0 {
		errs = append(errs, "translation.rateLimitPerMinute must be >= 0")
	}
	for i, m := range cfg.Translation.FallbackModels {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Sprintf("translation.fallbackModels[%d] is empty", i))
		}
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "sqlite":
		if cfg.Cache.DBPath == "" {
			errs = append(errs, "cache.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "cache.backend must be one of: sqlite, memory")
	}

	if cfg.Fulfillment.MaxConcurrent < 1 || cfg.Fulfillment.MaxConcurrent > 256 {
		errs = append(errs, "fulfillment.maxConcurrent must be between 1 and 256")
	}
	if cfg.Fulfillment.TimeoutSeconds < 1 {
		errs = append(errs, "fulfillment.timeoutSeconds must be >= 1")
	}

	ch := cfg.Channels
	if ch.Slack.Enabled && (ch.Slack.BotToken == "" || ch.Slack.AppToken == "") {
		errs = append(errs, "channels.slack: botToken and appToken are required when enabled")
	}
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		errs = append(errs, "channels.telegram: token is required when enabled")
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		errs = append(errs, "channels.discord: token is required when enabled")
	}
	if ch.Webhook.Port < 0 || ch.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if ch.Webhook.CallbackURL != "" && !isHTTPURL(ch.Webhook.CallbackURL) {
		errs = append(errs, "channels.webhook.callbackURL must be an http(s) URL")
	}
	if ch.Webhook.PublicURL != "" && !isHTTPURL(ch.Webhook.PublicURL) {
		errs = append(errs, "channels.webhook.publicURL must be an http(s) URL")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
