// Package util provides shared helpers for outbound HTTP, including proxy
// configuration for SOCKS5 and HTTP proxies.
package util

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	// ConnectTimeout bounds TCP connection establishment to an upstream.
	ConnectTimeout = 10 * time.Second

	// StreamTimeout bounds a whole upstream exchange, including streaming.
	StreamTimeout = 600 * time.Second

	// RefreshTimeout bounds a token refresh exchange.
	RefreshTimeout = 30 * time.Second
)

var (
	clientMu sync.Mutex
	clients  = make(map[string]*http.Client)
)

// StreamClient returns a shared HTTP client suitable for upstream model
// calls, honoring the given proxy URL. Clients are cached per proxy and
// timeout so transports and their connection pools are reused.
func StreamClient(proxyURL string) *http.Client {
	return sharedClient(proxyURL, StreamTimeout)
}

// RefreshClient returns a shared HTTP client for OAuth token refreshes.
func RefreshClient(proxyURL string) *http.Client {
	return sharedClient(proxyURL, RefreshTimeout)
}

func sharedClient(proxyURL string, timeout time.Duration) *http.Client {
	key := proxyURL + "|" + timeout.String()
	clientMu.Lock()
	defer clientMu.Unlock()
	if c, ok := clients[key]; ok {
		return c
	}
	c := &http.Client{
		Timeout:   timeout,
		Transport: newTransport(proxyURL),
	}
	clients[key] = c
	return c
}

// newTransport builds an HTTP transport that dials through the configured
// proxy. SOCKS5 proxies use a custom dialer; HTTP and HTTPS proxies go
// through the standard proxy function. An empty or invalid proxy URL yields
// a direct transport.
func newTransport(proxyURL string) *http.Transport {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: 0,
	}
	if proxyURL == "" {
		return transport
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("invalid proxy url %q: %v", proxyURL, err)
		return transport
	}

	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		socksDialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, auth, dialer)
		if errSOCKS5 != nil {
			log.Errorf("failed to create SOCKS5 dialer: %v", errSOCKS5)
			return transport
		}
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		log.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return transport
}
