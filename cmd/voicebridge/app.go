package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voicebridge/internal/cache"
	"voicebridge/internal/config"
	"voicebridge/internal/domain"
	"voicebridge/internal/fulfillment"
	"voicebridge/internal/interaction"
	"voicebridge/internal/provider"
)

// pipeline wires cache, service clients, worker, dispatcher and the
// interaction engine.
type pipeline struct {
	store      domain.ResultCache
	worker     *fulfillment.Worker
	dispatcher *fulfillment.Dispatcher
	engine     *interaction.Engine
	logger     *slog.Logger
}

func openStore(cfg config.CacheConfig, logger *slog.Logger) (domain.ResultCache, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite", "":
		store, err := cache.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	store, err := openStore(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	transcriber := provider.NewTranscriptionClient(provider.TranscriptionConfig{
		Endpoint:   cfg.Transcription.Endpoint,
		Timeout:    time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Transcription.MaxRetries,
		Logger:     logger,
	})
	translator := buildTranslator(cfg.Translation, logger)

	worker := fulfillment.NewWorker(fulfillment.WorkerConfig{
		Transcriber: transcriber,
		Translator:  translator,
		Resolver:    cache.NewResolver(store, logger),
		Logger:      logger,
	})
	dispatcher := fulfillment.NewDispatcher(fulfillment.DispatcherConfig{
		Worker:        worker,
		MaxConcurrent: cfg.Fulfillment.MaxConcurrent,
		Timeout:       time.Duration(cfg.Fulfillment.TimeoutSeconds) * time.Second,
		Logger:        logger,
	})
	engine := interaction.NewEngine(interaction.Config{
		Starter:           dispatcher,
		LanguageSelection: cfg.Interaction.LanguageSelection,
		DefaultLanguage:   cfg.Interaction.DefaultLanguage,
		AudioBaseURL:      cfg.Interaction.AudioBaseURL,
		Logger:            logger,
	})

	logger.Info("pipeline ready",
		"cache", cfg.Cache.Backend,
		"transcription", cfg.Transcription.Endpoint,
		"model", cfg.Translation.Model,
		"language_selection", cfg.Interaction.LanguageSelection,
	)

	return &pipeline{
		store:      store,
		worker:     worker,
		dispatcher: dispatcher,
		engine:     engine,
		logger:     logger,
	}, nil
}

// cleanLoop forgets finished dispatcher tasks older than an hour.
func (p *pipeline) cleanLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.dispatcher.Clean(time.Hour); n > 0 {
				p.logger.Debug("cleaned finished tasks", "removed", n)
			}
		}
	}
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

// buildTranslator returns the primary model client, wrapped in a failover
// chain when fallback models are configured. Each model has its own rate
// limit budget.
func buildTranslator(cfg config.TranslationConfig, logger *slog.Logger) domain.Translator {
	models := append([]string{cfg.Model}, cfg.FallbackModels...)
	chain := make([]provider.NamedTranslator, 0, len(models))
	for _, model := range models {
		chain = append(chain, provider.NamedTranslator{
			Name: model,
			Translator: provider.NewTranslationClient(provider.TranslationConfig{
				APIBase:            cfg.APIBase,
				APIKey:             cfg.APIKey,
				Model:              model,
				Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
				MaxRetries:         cfg.MaxRetries,
				RateLimitPerMinute: cfg.RateLimitPerMinute,
				Logger:             logger,
			}),
		})
	}
	if len(chain) == 1 {
		return chain[0].Translator
	}
	return provider.NewFailoverTranslator(chain, logger)
}
