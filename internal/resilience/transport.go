package resilience

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Transport tuning for long-lived streaming responses. The response header
// timeout is generous; large-context requests can sit in upstream queues for
// minutes before the first byte.
const (
	maxIdleConns          = 256
	maxIdleConnsPerHost   = 32
	idleConnTimeout       = 90 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = time.Second
	responseHeaderTimeout = 10 * time.Minute
	dialTimeout           = 30 * time.Second
	keepAlive             = 30 * time.Second
	h2ReadIdleTimeout     = 30 * time.Second
	h2PingTimeout         = 15 * time.Second
	streamBufferSize      = 64 * 1024
)

var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport returns the process-wide pooled transport used when no
// proxy is configured.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		sharedTransport = newBaseTransport()
		sharedTransport.DialContext = newDialer().DialContext
	})
	return sharedTransport
}

func newDialer() *net.Dialer {
	return &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
}

// newBaseTransport builds a transport tuned for SSE: HTTP/2 with read-idle
// pings so a silently dead upstream connection is noticed mid-stream, and
// automatic compression disabled so Accept-Encoding stays under our control.
func newBaseTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		WriteBufferSize:       streamBufferSize,
		ReadBufferSize:        streamBufferSize,
	}
	if h2, err := http2.ConfigureTransports(t); err == nil {
		h2.ReadIdleTimeout = h2ReadIdleTimeout
		h2.PingTimeout = h2PingTimeout
	}
	return t
}

// proxyTransport builds a transport routed through an HTTP(S) proxy.
func proxyTransport(proxyURL *url.URL) *http.Transport {
	t := newBaseTransport()
	t.Proxy = http.ProxyURL(proxyURL)
	t.DialContext = newDialer().DialContext
	return t
}

// socks5Transport builds a transport dialing through a SOCKS5 proxy.
func socks5Transport(dial func(network, addr string) (net.Conn, error)) *http.Transport {
	t := newBaseTransport()
	t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
		return dial(network, addr)
	}
	return t
}

var (
	proxyTransports   = make(map[string]*http.Transport)
	proxyTransportsMu sync.Mutex
)

// TransportFor returns a transport for the given proxy URL, caching one per
// distinct proxy. An empty proxyURL returns the shared transport. Supported
// schemes: http, https, socks5.
func TransportFor(proxyURL string) (*http.Transport, error) {
	if proxyURL == "" {
		return SharedTransport(), nil
	}

	proxyTransportsMu.Lock()
	defer proxyTransportsMu.Unlock()
	if t, ok := proxyTransports[proxyURL]; ok {
		return t, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	var t *http.Transport
	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, errDial := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errDial != nil {
			return nil, errDial
		}
		t = socks5Transport(dialer.Dial)
	default:
		t = proxyTransport(parsed)
	}

	proxyTransports[proxyURL] = t
	return t, nil
}

// NewHTTPClient builds a client for upstream calls. Zero timeout means no
// client-level deadline; streaming callers bound lifetime via context.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	t, err := TransportFor(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: timeout}, nil
}
