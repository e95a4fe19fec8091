package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns the shared HTTP transport for outbound platform
// API calls. Each client talks to a single host, so the per-host caps are
// what actually bound concurrency when a platform degrades.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost: 20,

		MaxIdleConnsPerHost: 5,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
