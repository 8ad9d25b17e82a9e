package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/keboola/go-envelope-client/pkg/client"
	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/request"
)

func TestDefaultTransport(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"msg":"","result":"pong"}`))
	}))
	defer server.Close()

	c := client.New().WithTransport(client.DefaultTransport())
	res, err := c.Send(ctx, request.New(server.URL+"/ping"), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"code": float64(0), "msg": "", "result": "pong"}, res.Body)
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	transport, ok := client.NewTransport(client.TransportConfig{MaxConnsPerHost: 5}).(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5, transport.MaxConnsPerHost)
	assert.Equal(t, 5, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 20*time.Second, transport.ResponseHeaderTimeout)

	transport, ok = client.NewTransport(client.TransportConfig{}).(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, client.MaxConnectionsPerHost, transport.MaxConnsPerHost)

	_, ok = client.NewTransport(client.TransportConfig{HTTP2: true}).(*http2.Transport)
	assert.True(t, ok)
}

func TestTransportConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxConnsPerHost = 4
	cfg.RequestTimeout = 5 * time.Second
	cfg.HTTP2 = true

	out := client.TransportConfigFrom(cfg)
	assert.Equal(t, 4, out.MaxConnsPerHost)
	assert.Equal(t, 5*time.Second, out.ResponseHeaderTimeout)
	assert.True(t, out.HTTP2)

	// Request timeout longer than the default header timeout
	cfg.RequestTimeout = time.Minute
	assert.Equal(t, 20*time.Second, client.TransportConfigFrom(cfg).ResponseHeaderTimeout)
}
