package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Interaction: InteractionConfig{
			LanguageSelection: true,
			DefaultLanguage:   "es",
			AudioBaseURL:      "http://localhost:3000",
		},
		Transcription: TranscriptionConfig{
			Endpoint:       "http://localhost:5005/transcribe",
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Translation: TranslationConfig{
			APIBase:        "https://generativelanguage.googleapis.com/v1beta",
			Model:          "gemini-1.5-flash",
			TimeoutSeconds: 60,
			MaxRetries:     2,

			RateLimitPerMinute: 60,
		},
		Cache: CacheConfig{
			Backend: "sqlite",
			DBPath:  "~/.voicebridge/cache.db",
		},
		Fulfillment: FulfillmentConfig{
			MaxConcurrent:  8,
			TimeoutSeconds: 300,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			Webhook: WebhookConfig{
				Port: 9090,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
