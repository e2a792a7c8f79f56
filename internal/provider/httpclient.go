package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// pooledTransport is shared by every service client so transcription and
// translation calls reuse keep-alive connections.
func pooledTransport() *http.Transport {
	transportOnce.Do(func() {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns a client on the pooled transport bounded by
// timeout. Per-request deadlines still come from the caller's context.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}
