package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const defaultMediaEntries = 10000

// MediaFetcher builds the authenticated upstream request for a registered
// file. It runs on every download, so short-lived links are resolved fresh.
type MediaFetcher func(ctx context.Context) (*http.Request, error)

type mediaEntry struct {
	mimeType string
	fetch    MediaFetcher
}

// MediaProxyConfig configures the media proxy.
type MediaProxyConfig struct {
	PublicURL  string // base URL the transcription service reaches this server on
	Max        int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// MediaProxy serves platform files that need bot credentials under
// token-only URLs (GET {PublicURL}/media/{token}). Credentials stay in the
// fetcher and never appear in the URL handed to the transcription service.
type MediaProxy struct {
	publicURL string
	max       int
	client    *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]mediaEntry
	order   []string
}

func NewMediaProxy(cfg MediaProxyConfig) *MediaProxy {
	if cfg.Max <= 0 {
		cfg.Max = defaultMediaEntries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MediaProxy{
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		max:       cfg.Max,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
		entries:   make(map[string]mediaEntry),
	}
}

// Register stores fetch and returns the public URL that downloads it.
func (m *MediaProxy) Register(mimeType string, fetch MediaFetcher) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")

	m.mu.Lock()
	for len(m.order) >= m.max {
		delete(m.entries, m.order[0])
		m.order = m.order[1:]
	}
	m.entries[token] = mediaEntry{mimeType: mimeType, fetch: fetch}
	m.order = append(m.order, token)
	m.mu.Unlock()

	return m.publicURL + "/media/" + token
}

func (m *MediaProxy) lookup(token string) (mediaEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	return e, ok
}

// ServeHTTP streams the upstream file registered under the {token} route
// variable.
func (m *MediaProxy) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	entry, ok := m.lookup(token)
	if !ok {
		http.Error(rw, "Not Found", http.StatusNotFound)
		return
	}

	req, err := entry.fetch(r.Context())
	if err != nil {
		m.logger.Error("media fetch setup failed", "token", token, "err", stripURL(err))
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("media download failed", "token", token, "err", stripURL(err))
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	ctype := resp.Header.Get("Content-Type")
	// An auth failure on Slack answers 200 with the HTML login page.
	if resp.StatusCode != http.StatusOK || isHTML(ctype) {
		m.logger.Error("media upstream rejected download", "token", token, "status", resp.StatusCode, "content_type", ctype)
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}

	if ctype == "" {
		ctype = entry.mimeType
	}
	if ctype != "" {
		rw.Header().Set("Content-Type", ctype)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		rw.Header().Set("Content-Length", cl)
	}
	rw.WriteHeader(http.StatusOK)
	n, err := io.Copy(rw, resp.Body)
	if err != nil {
		m.logger.Warn("media stream interrupted", "token", token, "bytes", n, "err", err)
		return
	}
	m.logger.Debug("media served", "token", token, "bytes", n)
}

func isHTML(ctype string) bool {
	mt, _, _ := mime.ParseMediaType(ctype)
	return mt == "text/html"
}

// stripURL drops the request URL from transport errors; upstream URLs can
// embed bot tokens.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// bearerFetcher downloads rawURL with an Authorization bearer token.
func bearerFetcher(rawURL, token string) MediaFetcher {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}
}
