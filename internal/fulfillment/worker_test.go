package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voicebridge/internal/cache"
	"voicebridge/internal/domain"
	"voicebridge/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTranscriber struct {
	calls atomic.Int32
	text  string
	err   error
	panic bool
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("transcriber exploded")
	}
	return f.text, f.err
}

type fakeTranslator struct {
	calls atomic.Int32
	text  string
	err   error
	got   atomic.Value // last source text
}

func (f *fakeTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	f.calls.Add(1)
	f.got.Store(text)
	return f.text, f.err
}

type recordingGateway struct {
	mu       sync.Mutex
	messages []domain.OutgoingMessage
	notes    []domain.Notification
	sendErr  error
}

func (g *recordingGateway) SendMessage(_ context.Context, msg domain.OutgoingMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.messages = append(g.messages, msg)
	return nil
}

func (g *recordingGateway) NotifyUser(_ context.Context, n domain.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes = append(g.notes, n)
	return nil
}

func testRequest() domain.FulfillmentRequest {
	return domain.FulfillmentRequest{
		AudioURL:          "http://host/a.wav",
		OriginalMessageID: "m1",
		TargetLanguage:    "es",
		UserID:            "u1",
		RoomID:            "r1",
	}
}

func newTestWorker(tr domain.Transcriber, tl domain.Translator, store domain.ResultCache) *Worker {
	return NewWorker(WorkerConfig{
		Transcriber: tr,
		Translator:  tl,
		Resolver:    cache.NewResolver(store, testLogger()),
		Logger:      testLogger(),
	})
}

func TestWorker_Success(t *testing.T) {
	tr := &fakeTranscriber{text: "hello world"}
	tl := &fakeTranslator{text: "hola mundo"}
	gw := &recordingGateway{}

	if err := newTestWorker(tr, tl, cache.NewMemoryStore()).Run(context.Background(), gw, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.messages) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(gw.messages))
	}
	msg := gw.messages[0]
	if msg.ThreadID != "m1" || msg.RoomID != "r1" || msg.SenderID != "u1" {
		t.Errorf("unexpected reply routing: %+v", msg)
	}
	if !strings.Contains(msg.Text, "hello world") || !strings.Contains(msg.Text, "hola mundo") {
		t.Errorf("reply missing text: %q", msg.Text)
	}
	if strings.Contains(msg.Text, CachedNotice) {
		t.Error("fresh reply must not carry the cache notice")
	}
	if got := tl.got.Load(); got != "hello world" {
		t.Errorf("translator received %v", got)
	}
}

func TestWorker_TranscriptionFailureSkipsTranslation(t *testing.T) {
	tr := &fakeTranscriber{err: &domain.TranscriptionError{StatusCode: 500, Err: errors.New("boom")}}
	tl := &fakeTranslator{text: "never"}
	gw := &recordingGateway{}

	newTestWorker(tr, tl, cache.NewMemoryStore()).Run(context.Background(), gw, testRequest())

	if tl.calls.Load() != 0 {
		t.Fatalf("expected no translation call, got %d", tl.calls.Load())
	}
	if len(gw.messages) != 1 || len(gw.notes) != 0 {
		t.Fatalf("expected a single failure reply, got msgs=%d notes=%d", len(gw.messages), len(gw.notes))
	}
	reply := gw.messages[0]
	if reply.Text != TranscriptionFailedText {
		t.Fatalf("unexpected failure text %q", reply.Text)
	}
	if reply.ThreadID != "m1" || reply.RoomID != testRequest().RoomID {
		t.Fatalf("failure reply must be threaded under the original message, got %+v", reply)
	}
}

func TestWorker_EmptyTranscriptionIsFailure(t *testing.T) {
	tr := &fakeTranscriber{text: ""}
	tl := &fakeTranslator{text: "never"}
	gw := &recordingGateway{}
	store := cache.NewMemoryStore()

	newTestWorker(tr, tl, store).Run(context.Background(), gw, testRequest())

	if tl.calls.Load() != 0 || len(gw.messages) != 1 || gw.messages[0].Text != TranscriptionFailedText {
		t.Fatalf("expected failure reply only, got translate=%d msgs=%+v", tl.calls.Load(), gw.messages)
	}
}

func TestWorker_TranslationFailureKeepsTranscription(t *testing.T) {
	for name, err := range map[string]error{
		"status":       &domain.TranslationError{StatusCode: 503, Err: errors.New("down")},
		"no candidate": &domain.TranslationError{Err: domain.ErrNoCandidate},
	} {
		t.Run(name, func(t *testing.T) {
			tr := &fakeTranscriber{text: "hello world"}
			tl := &fakeTranslator{err: err}
			gw := &recordingGateway{}

			if err := newTestWorker(tr, tl, cache.NewMemoryStore()).Run(context.Background(), gw, testRequest()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(gw.messages) != 1 {
				t.Fatalf("expected 1 reply, got %d", len(gw.messages))
			}
			text := gw.messages[0].Text
			if !strings.Contains(text, "hello world") || !strings.Contains(text, TranslationFailedText) {
				t.Fatalf("reply must contain transcription and failure marker: %q", text)
			}
		})
	}
}

func TestWorker_SecondRunServedFromCache(t *testing.T) {
	tr := &fakeTranscriber{text: "hello world"}
	tl := &fakeTranslator{text: "hola mundo"}
	w := newTestWorker(tr, tl, cache.NewMemoryStore())

	for i := 0; i < 2; i++ {
		gw := &recordingGateway{}
		if err := w.Run(context.Background(), gw, testRequest()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		text := gw.messages[0].Text
		if !strings.Contains(text, "hello world") || !strings.Contains(text, "hola mundo") {
			t.Fatalf("run %d: reply missing text: %q", i, text)
		}
		if i == 1 && !strings.HasPrefix(text, CachedNotice) {
			t.Errorf("second reply should be flagged as cached: %q", text)
		}
	}
	if tr.calls.Load() != 1 || tl.calls.Load() != 1 {
		t.Fatalf("expected 1 call each, got transcribe=%d translate=%d", tr.calls.Load(), tl.calls.Load())
	}
}

func TestWorker_NewLanguageReusesTranscription(t *testing.T) {
	tr := &fakeTranscriber{text: "hello world"}
	tl := &fakeTranslator{text: "bonjour le monde"}
	w := newTestWorker(tr, tl, cache.NewMemoryStore())

	req := testRequest()
	w.Run(context.Background(), &recordingGateway{}, req)
	req.TargetLanguage = "fr"
	w.Run(context.Background(), &recordingGateway{}, req)

	if tr.calls.Load() != 1 {
		t.Fatalf("expected a single transcription, got %d", tr.calls.Load())
	}
	if tl.calls.Load() != 2 {
		t.Fatalf("expected one translation per language, got %d", tl.calls.Load())
	}
}

func TestWorker_FailedTranslationIsRetriedNextTime(t *testing.T) {
	tr := &fakeTranscriber{text: "hello world"}
	tl := &fakeTranslator{err: &domain.TranslationError{Err: domain.ErrNoCandidate}}
	w := newTestWorker(tr, tl, cache.NewMemoryStore())

	w.Run(context.Background(), &recordingGateway{}, testRequest())
	tl.err = nil
	tl.text = "hola mundo"
	gw := &recordingGateway{}
	w.Run(context.Background(), gw, testRequest())

	if tl.calls.Load() != 2 {
		t.Fatalf("failed translation must not be cached, got %d calls", tl.calls.Load())
	}
	if !strings.Contains(gw.messages[0].Text, "hola mundo") {
		t.Fatalf("unexpected reply %q", gw.messages[0].Text)
	}
}

func TestWorker_MissingEntityAbortsSilently(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("down")}
	gw := &recordingGateway{sendErr: domain.ErrMissingEntity}

	err := newTestWorker(tr, &fakeTranslator{}, cache.NewMemoryStore()).Run(context.Background(), gw, testRequest())
	if !errors.Is(err, domain.ErrMissingEntity) {
		t.Fatalf("expected ErrMissingEntity, got %v", err)
	}
}

func TestWorker_PanicBecomesFailureNotice(t *testing.T) {
	tr := &fakeTranscriber{panic: true}
	gw := &recordingGateway{}

	err := newTestWorker(tr, &fakeTranslator{}, cache.NewMemoryStore()).Run(context.Background(), gw, testRequest())
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if len(gw.messages) != 1 || gw.messages[0].Text != internalErrorText || gw.messages[0].ThreadID != "m1" {
		t.Fatalf("expected threaded internal error reply, got %+v", gw.messages)
	}
}

// End to end against HTTP stand-ins for both services.
func TestWorker_HTTPServices(t *testing.T) {
	var transcribeCalls, translateCalls atomic.Int32
	stt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transcribeCalls.Add(1)
		w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer stt.Close()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		translateCalls.Add(1)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hola mundo"}]}}]}`))
	}))
	defer llm.Close()

	store, err := cache.NewSQLiteStore(t.TempDir()+"/cache.db", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	w := newTestWorker(
		provider.NewTranscriptionClient(provider.TranscriptionConfig{Endpoint: stt.URL + "/transcribe", Timeout: 2 * time.Second, Logger: testLogger()}),
		provider.NewTranslationClient(provider.TranslationConfig{APIBase: llm.URL, APIKey: "k", Timeout: 2 * time.Second, Logger: testLogger()}),
		store,
	)

	for i := 0; i < 2; i++ {
		gw := &recordingGateway{}
		if err := w.Run(context.Background(), gw, testRequest()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(gw.messages) != 1 || gw.messages[0].ThreadID != "m1" {
			t.Fatalf("run %d: expected threaded reply, got %+v", i, gw.messages)
		}
		text := gw.messages[0].Text
		if !strings.Contains(text, "hello world") || !strings.Contains(text, "hola mundo") {
			t.Fatalf("run %d: unexpected reply %q", i, text)
		}
	}
	if transcribeCalls.Load() != 1 || translateCalls.Load() != 1 {
		t.Fatalf("expected 1 remote call each, got %d/%d", transcribeCalls.Load(), translateCalls.Load())
	}
}

func TestWorker_HTTPTranscriptionStatus500(t *testing.T) {
	stt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer stt.Close()
	var translateCalls atomic.Int32
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		translateCalls.Add(1)
	}))
	defer llm.Close()

	w := newTestWorker(
		provider.NewTranscriptionClient(provider.TranscriptionConfig{Endpoint: stt.URL, Timeout: 2 * time.Second, Logger: testLogger()}),
		provider.NewTranslationClient(provider.TranslationConfig{APIBase: llm.URL, Timeout: 2 * time.Second, Logger: testLogger()}),
		cache.NewMemoryStore(),
	)
	gw := &recordingGateway{}
	w.Run(context.Background(), gw, testRequest())

	if translateCalls.Load() != 0 {
		t.Fatalf("expected no translation call, got %d", translateCalls.Load())
	}
	if len(gw.notes) != 0 || len(gw.messages) != 1 || gw.messages[0].Text != "❌ Transcription failed." {
		t.Fatalf("expected single failure reply, got msgs=%+v notes=%+v", gw.messages, gw.notes)
	}
}
