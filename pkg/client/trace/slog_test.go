package trace_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/keboola/go-utils/pkg/wildcards"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-envelope-client/pkg/client"
	"github.com/keboola/go-envelope-client/pkg/client/trace"
	"github.com/keboola/go-envelope-client/pkg/request"
)

func TestSlogTracer(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com/foo`, httpmock.NewStringResponder(200, `{"code":0}`))

	// Logger without time
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	c := client.New().WithTransport(transport).AndTrace(trace.SlogTracer(logger))
	_, err := c.Send(context.Background(), request.New("https://example.com/foo"), nil)
	require.NoError(t, err)

	expected := `
level=DEBUG msg="http request start" request.id=1 request.kind=plain method=GET url=https://example.com/foo
level=DEBUG msg="http request done" request.id=1 request.kind=plain duration=%s status=200
level=DEBUG msg="http response body read" request.id=1 request.kind=plain bytes=10
level=DEBUG msg="request processed" request.id=1 request.kind=plain status=200 body=true
`
	wildcards.Assert(t, strings.TrimLeft(expected, "\n"), out.String())
}
