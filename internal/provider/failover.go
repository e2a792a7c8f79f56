package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voicebridge/internal/domain"
)

// NamedTranslator pairs a translator with a name for logging.
type NamedTranslator struct {
	Name       string
	Translator domain.Translator
}

// FailoverTranslator tries translators in order, falling back to the next
// one when the current fails or returns no candidate.
type FailoverTranslator struct {
	chain  []NamedTranslator
	logger *slog.Logger
}

func NewFailoverTranslator(chain []NamedTranslator, logger *slog.Logger) *FailoverTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverTranslator{chain: chain, logger: logger}
}

// Translate returns the first successful translation. When every translator
// fails the last error is returned, so ErrNoCandidate stays detectable.
func (f *FailoverTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if len(f.chain) == 0 {
		return "", &domain.TranslationError{Err: errors.New("no translators configured")}
	}
	var lastErr error
	for i, t := range f.chain {
		out, err := t.Translator.Translate(ctx, text, targetLanguage)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback translator", "translator", t.Name, "attempt", i+1)
			}
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(f.chain)-1 {
			f.logger.Warn("failover: translator failed, trying next", "translator", t.Name, "attempt", i+1, "err", err)
		}
	}
	return "", fmt.Errorf("all translators failed: %w", lastErr)
}
