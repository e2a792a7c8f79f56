package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// retryPolicy bounds doWithRetry. maxRetries == 0 disables retrying.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
}

// statusError is a response status that ended the retry loop.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request, retrying network failures, 5xx and
// 429 with jittered backoff. Other statuses are returned to the caller.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * policy.backoff
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			wait := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			err = redactURLError(err)
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			logger.Warn("request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &statusError{statusCode: resp.StatusCode, body: string(body)}
			logger.Warn("server error", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// redactURLError masks query values and user info in the URL carried by a
// transport error. API keys travel in the query string and must not reach
// logs or task records.
func redactURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
}

// redactURL returns raw with every query value replaced and any password
// masked. Unparseable input is dropped entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, "REDACTED")
		}
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// urlHost returns only the host of raw. Audio URLs can carry credentials in
// the path (Telegram file links), so only the host is logged.
func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[invalid url]"
	}
	return u.Host
}
