package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/keboola/go-envelope-client/pkg/config"
)

// MaxConnectionsPerHost specifies default maximum number of open connections to a host.
const MaxConnectionsPerHost = 32

// TransportConfig configures the HTTP transport of the Client.
type TransportConfig struct {
	// MaxConnsPerHost limits open connections to a host, idle connections are limited by the same value.
	MaxConnsPerHost int
	// DialTimeout is the maximum connection initialization time.
	DialTimeout time.Duration
	// KeepAlive is the interval between keep-alive probes.
	KeepAlive time.Duration
	// TLSHandshakeTimeout is the maximum duration of TLS handshake.
	TLSHandshakeTimeout time.Duration
	// ResponseHeaderTimeout is the maximum time to wait for response headers, it must not exceed the request timeout.
	ResponseHeaderTimeout time.Duration
	// HTTP2 forces the HTTP2 protocol, without fallback to HTTP1.
	HTTP2 bool
}

// DefaultTransportConfig returns transport limits suitable for API calls and downloads.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxConnsPerHost:       MaxConnectionsPerHost,
		DialTimeout:           3 * time.Second,
		KeepAlive:             10 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
}

// TransportConfigFrom maps the process configuration to the transport configuration.
func TransportConfigFrom(cfg config.Config) TransportConfig {
	out := DefaultTransportConfig()
	if cfg.MaxConnsPerHost > 0 {
		out.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.RequestTimeout > 0 && cfg.RequestTimeout < out.ResponseHeaderTimeout {
		out.ResponseHeaderTimeout = cfg.RequestTimeout
	}
	out.HTTP2 = cfg.HTTP2
	return out
}

// DefaultTransport default transport with reasonable limits.
func DefaultTransport() http.RoundTripper {
	return NewTransport(DefaultTransportConfig())
}

// NewTransport creates the transport, zero values are replaced by the defaults.
func NewTransport(cfg TransportConfig) http.RoundTripper {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

	if cfg.HTTP2 {
		return &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
				tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
				return tlsDialer.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout:  3 * time.Second,
			PingTimeout:      3 * time.Second,
			WriteByteTimeout: 3 * time.Second,
		}
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true, // HTTP2 is preferred.
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
	}
}

func (c TransportConfig) withDefaults() TransportConfig {
	d := DefaultTransportConfig()
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = d.MaxConnsPerHost
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if c.ResponseHeaderTimeout <= 0 {
		c.ResponseHeaderTimeout = d.ResponseHeaderTimeout
	}
	return c
}
