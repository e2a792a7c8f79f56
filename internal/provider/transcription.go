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
	"strings"
	"time"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// TranscriptionConfig configures the speech-to-text service client.
type TranscriptionConfig struct {
	Endpoint   string        // full URL, e.g. "http://localhost:5005/transcribe"
	Timeout    time.Duration // bounds the whole call including retries
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// TranscriptionClient posts audio URLs to the transcription service.
type TranscriptionClient struct {
	endpoint string
	timeout  time.Duration
	policy   retryPolicy
	client   *http.Client
	logger   *slog.Logger
}

func NewTranscriptionClient(cfg TranscriptionConfig) *TranscriptionClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:5005/transcribe"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
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
	return &TranscriptionClient{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		policy:   retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.Backoff},
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Text  *string `json:"text"`
	Error string  `json:"error,omitempty"`
}

// Transcribe returns the text spoken in the audio at audioURL. Every failure,
// including a 200 response without text, is a *domain.TranscriptionError.
func (c *TranscriptionClient) Transcribe(ctx context.Context, audioURL string) (string, error) {
	start := time.Now()
	text, err := c.transcribe(ctx, audioURL)
	metrics.TranscriptionLatency.Since(start)
	if err != nil {
		metrics.TranscriptionFailures.Inc()
		c.logger.Error("transcription failed", "audio_host", urlHost(audioURL), "err", err)
		return "", err
	}
	c.logger.Info("transcription complete", "text_len", len(text), "duration", time.Since(start))
	return text, nil
}

func (c *TranscriptionClient) transcribe(ctx context.Context, audioURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(transcribeRequest{AudioURL: audioURL})
	if err != nil {
		return "", &domain.TranscriptionError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	resp, err := doWithRetry(ctx, c.client, c.policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, c.logger)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return "", &domain.TranscriptionError{StatusCode: se.statusCode, Err: err}
		}
		return "", &domain.TranscriptionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.TranscriptionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &domain.TranscriptionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.Text == nil || strings.TrimSpace(*result.Text) == "" {
		return "", &domain.TranscriptionError{StatusCode: resp.StatusCode, Err: errors.New("response has no text")}
	}
	return strings.TrimSpace(*result.Text), nil
}
