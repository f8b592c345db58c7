// File: internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	DefaultTimeout     = 10 * time.Second
	defaultDialTimeout = 5 * time.Second
	defaultHeaderWait  = 10 * time.Second
	// A relay sees a handful of posts per run; keep the idle pool small.
	defaultIdlePerHost = 2
)

// Options describes an outbound client for a single remote endpoint.
type Options struct {
	// Timeout bounds a whole request, retries excluded.
	Timeout time.Duration
	// Proxy overrides the proxy taken from the environment.
	Proxy *url.URL
	// HTTP1Only disables the HTTP/2 upgrade.
	HTTP1Only bool
	Logger    *zap.Logger
}

// ParseProxy validates a proxy address. An empty string yields nil.
func ParseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("invalid proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}

// NewTransport builds a transport with short timeouts, a TLS 1.2 floor and the
// configured proxy.
func NewTransport(opts Options) *http.Transport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     !opts.HTTP1Only,
		MaxIdleConns:          8,
		MaxIdleConnsPerHost:   defaultIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   defaultDialTimeout,
		ResponseHeaderTimeout: defaultHeaderWait,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(16),
		},
	}
	if opts.Proxy != nil {
		t.Proxy = http.ProxyURL(opts.Proxy)
	}

	if opts.HTTP1Only {
		t.TLSClientConfig.NextProtos = []string{"http/1.1"}
		return t
	}
	if err := http2.ConfigureTransport(t); err != nil {
		logger.Warn("HTTP/2 unavailable, using HTTP/1.1.", zap.Error(err))
	}
	return t
}

// NewClient returns an http.Client over NewTransport. Callers close response bodies.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Transport: NewTransport(opts), Timeout: timeout}
}
