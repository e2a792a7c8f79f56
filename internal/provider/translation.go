package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// TranslationConfig configures the Gemini generateContent client.
type TranslationConfig struct {
	APIBase    string // e.g. "https://generativelanguage.googleapis.com/v1beta"
	APIKey     string
	Model      string // e.g. "gemini-1.5-flash"
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	// RateLimitPerMinute caps outgoing requests; 0 disables limiting.
	RateLimitPerMinute int
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// TranslationClient asks a generative model to translate text.
type TranslationClient struct {
	apiBase string
	apiKey  string
	model   string
	timeout time.Duration
	policy  retryPolicy
	limiter *RateLimiter
	client  *http.Client
	logger  *slog.Logger
}

func NewTranslationClient(cfg TranslationConfig) *TranslationClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var limiter *RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = NewRateLimiter(cfg.RateLimitPerMinute, float64(cfg.RateLimitPerMinute))
	}
	return &TranslationClient{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		policy:  retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.Backoff},
		limiter: limiter,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// TranslationPrompt builds the instruction sent to the model.
func TranslationPrompt(text, targetLanguage string) string {
	return fmt.Sprintf("Translate the following English sentence to %s:\n\n\"%s\". Return only the translated text.", targetLanguage, text)
}

// Translate returns text translated into targetLanguage. A successful call
// without candidate text returns a *domain.TranslationError wrapping
// domain.ErrNoCandidate.
func (c *TranslationClient) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	start := time.Now()
	out, err := c.translate(ctx, text, targetLanguage)
	metrics.TranslationLatency.Since(start)
	if err != nil {
		metrics.TranslationFailures.Inc()
		if errors.Is(err, domain.ErrNoCandidate) {
			c.logger.Warn("translation returned no candidate", "lang", targetLanguage)
		} else {
			c.logger.Error("translation failed", "lang", targetLanguage, "err", err)
		}
		return "", err
	}
	c.logger.Info("translation complete", "lang", targetLanguage, "text_len", len(out), "duration", time.Since(start))
	return out, nil
}

func (c *TranslationClient) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiBase, c.model, url.QueryEscape(c.apiKey))
}

func (c *TranslationClient) translate(ctx context.Context, text, targetLanguage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &domain.TranslationError{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: TranslationPrompt(text, targetLanguage)}}}},
	})
	if err != nil {
		return "", &domain.TranslationError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	resp, err := doWithRetry(ctx, c.client, c.policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, c.logger)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return "", &domain.TranslationError{StatusCode: se.statusCode, Err: err}
		}
		return "", &domain.TranslationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.TranslationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &domain.TranslationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.Error != nil {
		return "", &domain.TranslationError{StatusCode: result.Error.Code, Err: errors.New(result.Error.Message)}
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", &domain.TranslationError{StatusCode: resp.StatusCode, Err: domain.ErrNoCandidate}
	}
	out := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text)
	if out == "" {
		return "", &domain.TranslationError{StatusCode: resp.StatusCode, Err: domain.ErrNoCandidate}
	}
	return out, nil
}
