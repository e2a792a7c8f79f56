package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"voicebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []domain.InboundMessageEvent
	actions  []domain.ButtonInteractionEvent
	ack      domain.Ack
	err      error
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ domain.Gateway, ev domain.InboundMessageEvent) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, ev)
	return len(ev.Attachments), h.err
}

func (h *recordingHandler) HandleAction(_ context.Context, _ domain.Gateway, ev domain.ButtonInteractionEvent) domain.Ack {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, ev)
	return h.ack
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func serve(w *Webhook, h domain.EventHandler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	w.Router(h).ServeHTTP(rr, req)
	return rr
}

func TestVerifyHMAC_Valid(t *testing.T) {
	body := `{"messageId":"m1"}`
	if !verifyHMAC([]byte(body), "test-secret", sign(body, "test-secret")) {
		t.Error("valid HMAC should verify")
	}
}

func TestVerifyHMAC_Invalid(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC([]byte("body"), "secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhook_MessageEvent(t *testing.T) {
	h := &recordingHandler{}
	w := NewWebhook(WebhookConfig{Logger: testLogger()})
	body := `{"messageId":"m1","roomId":"r1","senderId":"u1","attachments":[{"audioUrl":"/file-upload/a.wav"},{"audioUrl":"/b.wav"}]}`

	rr := serve(w, h, http.MethodPost, "/events/message", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Prompts int `json:"prompts"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Prompts != 2 {
		t.Errorf("expected 2 prompts, got %d", resp.Prompts)
	}
	if len(h.messages) != 1 {
		t.Fatalf("expected 1 event, got %d", len(h.messages))
	}
	ev := h.messages[0]
	if ev.Channel != "webhook" || ev.MessageID != "m1" || ev.Attachments[0].AudioURL != "/file-upload/a.wav" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be defaulted")
	}
}

func TestWebhook_MessageEventValidation(t *testing.T) {
	cases := map[string]string{
		"invalid json": "not json",
		"no message":   `{"roomId":"r1"}`,
		"no room":      `{"messageId":"m1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			h := &recordingHandler{}
			rr := serve(NewWebhook(WebhookConfig{Logger: testLogger()}), h, http.MethodPost, "/events/message", body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
			if len(h.messages) != 0 {
				t.Error("handler must not be called")
			}
		})
	}
}

func TestWebhook_MessageEventHandlerError(t *testing.T) {
	h := &recordingHandler{err: errors.New("send failed")}
	rr := serve(NewWebhook(WebhookConfig{Logger: testLogger()}), h, http.MethodPost, "/events/message", `{"messageId":"m1","roomId":"r1"}`, nil)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
}

func TestWebhook_InteractionReturnsAck(t *testing.T) {
	h := &recordingHandler{ack: domain.Ack{OK: true}}
	body := `{"userId":"u1","roomId":"r1","actionId":"select_language","value":"{\"audioUrl\":\"x\",\"originalMsgId\":\"m1\"}"}`

	rr := serve(NewWebhook(WebhookConfig{Logger: testLogger()}), h, http.MethodPost, "/events/interaction", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var ack domain.Ack
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil || !ack.OK {
		t.Fatalf("expected ok ack, got %+v (%v)", ack, err)
	}
	if len(h.actions) != 1 || h.actions[0].ActionID != domain.ActionSelectLanguage || h.actions[0].Channel != "webhook" {
		t.Fatalf("unexpected actions: %+v", h.actions)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	rr := serve(NewWebhook(WebhookConfig{Logger: testLogger()}), &recordingHandler{}, http.MethodGet, "/events/message", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhook_Signature(t *testing.T) {
	body := `{"messageId":"m1","roomId":"r1"}`
	cases := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"invalid", map[string]string{signatureHeader: "sha256=invalid"}, http.StatusForbidden},
		{"valid", map[string]string{signatureHeader: sign(body, "my-secret")}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWebhook(WebhookConfig{Secret: "my-secret", Logger: testLogger()})
			rr := serve(w, &recordingHandler{}, http.MethodPost, "/events/message", body, tc.header)
			if rr.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestWebhook_HealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		io.WriteString(rw, "voicebridge_prompts_sent_total 1\n")
	})
	w := NewWebhook(WebhookConfig{Metrics: metrics, Logger: testLogger()})

	if rr := serve(w, &recordingHandler{}, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rr.Code)
	}
	rr := serve(w, &recordingHandler{}, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "prompts_sent") {
		t.Errorf("metrics: unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebhook_GatewayPostsToCallback(t *testing.T) {
	var got outboundEnvelope
	var sig string
	callback := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig = r.Header.Get(signatureHeader)
		if !verifyHMAC(body, "s3cret", sig) {
			rw.WriteHeader(http.StatusForbidden)
			return
		}
		json.Unmarshal(body, &got)
	}))
	defer callback.Close()

	w := NewWebhook(WebhookConfig{Secret: "s3cret", CallbackURL: callback.URL, Logger: testLogger()})
	err := w.SendMessage(context.Background(), domain.OutgoingMessage{
		RoomID:   "r1",
		Text:     "hi",
		ThreadID: "m1",
		Blocks:   []domain.Block{{Text: "pick", Buttons: []domain.Button{{ActionID: "select_language", Label: "Go", Value: "{}"}}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Type != "message" || got.Message == nil || got.Message.ThreadID != "m1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if len(got.Message.Blocks) != 1 || got.Message.Blocks[0].Buttons[0].ActionID != "select_language" {
		t.Fatalf("blocks not forwarded: %+v", got.Message.Blocks)
	}

	if err := w.NotifyUser(context.Background(), domain.Notification{UserID: "u1", RoomID: "r1", Text: "nope"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Type != "notification" || got.Notification.UserID != "u1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestWebhook_GatewayMissingEntity(t *testing.T) {
	callback := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNotFound)
	}))
	defer callback.Close()

	w := NewWebhook(WebhookConfig{CallbackURL: callback.URL, Logger: testLogger()})
	err := w.NotifyUser(context.Background(), domain.Notification{UserID: "ghost", RoomID: "r1"})
	if !errors.Is(err, domain.ErrMissingEntity) {
		t.Fatalf("expected ErrMissingEntity, got %v", err)
	}
}

func TestWebhook_GatewayWithoutCallback(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testLogger()})
	if err := w.SendMessage(context.Background(), domain.OutgoingMessage{RoomID: "r1"}); err == nil {
		t.Fatal("expected error without callback URL")
	}
}
