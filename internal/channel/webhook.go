package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"voicebridge/internal/domain"

	"github.com/gorilla/mux"
)

const signatureHeader = "X-Signature-256"

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Port        int
	Secret      string // HMAC secret for inbound and outbound signatures
	CallbackURL string // where outgoing messages and notifications are POSTed
	MetricsPath string // served when Metrics is set
	Metrics     http.Handler
	Media       *MediaProxy // served at /media/{token} when set
	// DisableEvents leaves out the /events routes when the server only
	// hosts media and metrics for the other channels.
	DisableEvents bool
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Webhook is a generic HTTP host: events are POSTed in, and the bot's
// messages are POSTed back to CallbackURL.
type Webhook struct {
	port        int
	secret      string
	callbackURL string
	metricsPath string
	metrics     http.Handler
	media       *MediaProxy
	events      bool
	client      *http.Client
	handler     domain.EventHandler
	logger      *slog.Logger
	server      *http.Server
}

// outboundEnvelope is the body POSTed to the callback URL.
type outboundEnvelope struct {
	Type         string                  `json:"type"` // message | notification
	Message      *domain.OutgoingMessage `json:"message,omitempty"`
	Notification *domain.Notification    `json:"notification,omitempty"`
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		port:        cfg.Port,
		secret:      cfg.Secret,
		callbackURL: cfg.CallbackURL,
		metricsPath: cfg.MetricsPath,
		metrics:     cfg.Metrics,
		media:       cfg.Media,
		events:      !cfg.DisableEvents,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Router returns the HTTP routes served by the webhook channel.
func (w *Webhook) Router(handler domain.EventHandler) *mux.Router {
	w.handler = handler

	r := mux.NewRouter()
	if w.events {
		r.HandleFunc("/events/message", w.handleMessage).Methods(http.MethodPost)
		r.HandleFunc("/events/interaction", w.handleInteraction).Methods(http.MethodPost)
	}
	if w.media != nil {
		r.Handle("/media/{token:[0-9a-f]+}", w.media).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	if w.metrics != nil {
		r.Handle(w.metricsPath, w.metrics).Methods(http.MethodGet)
	}
	return r
}

// Start begins the webhook HTTP server.
func (w *Webhook) Start(ctx context.Context, handler domain.EventHandler) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           w.Router(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "port", w.port, "callback", w.callbackURL != "")

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleMessage(rw http.ResponseWriter, r *http.Request) {
	body, ok := w.readVerified(rw, r)
	if !ok {
		return
	}
	var ev domain.InboundMessageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if ev.MessageID == "" || ev.RoomID == "" {
		http.Error(rw, "messageId and roomId are required", http.StatusBadRequest)
		return
	}
	if ev.Channel == "" {
		ev.Channel = "webhook"
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	w.logger.Info("webhook message received",
		"msg_id", ev.MessageID,
		"room", ev.RoomID,
		"attachments", len(ev.Attachments),
	)

	prompts, err := w.handler.HandleMessage(r.Context(), w, ev)
	if err != nil {
		w.logger.Error("webhook prompt failed", "msg_id", ev.MessageID, "err", err)
		writeJSON(rw, http.StatusBadGateway, map[string]any{"prompts": prompts, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"prompts": prompts})
}

func (w *Webhook) handleInteraction(rw http.ResponseWriter, r *http.Request) {
	body, ok := w.readVerified(rw, r)
	if !ok {
		return
	}
	var ev domain.ButtonInteractionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if ev.Channel == "" {
		ev.Channel = "webhook"
	}

	w.logger.Info("webhook interaction received", "action", ev.ActionID, "user", ev.UserID)

	writeJSON(rw, http.StatusOK, w.handler.HandleAction(r.Context(), w, ev))
}

// readVerified reads the body and checks its signature when a secret is set.
func (w *Webhook) readVerified(rw http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return nil, false
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return nil, false
		}
	}
	return body, true
}

// SendMessage POSTs msg to the callback URL.
func (w *Webhook) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	return w.post(ctx, outboundEnvelope{Type: "message", Message: &msg})
}

// NotifyUser POSTs n to the callback URL.
func (w *Webhook) NotifyUser(ctx context.Context, n domain.Notification) error {
	return w.post(ctx, outboundEnvelope{Type: "notification", Notification: &n})
}

func (w *Webhook) post(ctx context.Context, env outboundEnvelope) error {
	if w.callbackURL == "" {
		return fmt.Errorf("webhook %s: no callback URL configured", env.Type)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(signatureHeader, signHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", env.Type, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("webhook %s: callback returned 404: %w", env.Type, domain.ErrMissingEntity)
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook %s: callback returned %d", env.Type, resp.StatusCode)
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func signHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signHMAC(body, secret)), []byte(signature))
}

var (
	_ domain.Gateway = (*Webhook)(nil)
	_ domain.Gateway = (*Slack)(nil)
	_ domain.Gateway = (*Telegram)(nil)
	_ domain.Gateway = (*Discord)(nil)
	_ domain.Channel = (*Webhook)(nil)
	_ domain.Channel = (*Slack)(nil)
	_ domain.Channel = (*Telegram)(nil)
	_ domain.Channel = (*Discord)(nil)
)
