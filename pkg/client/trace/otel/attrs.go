package otel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/keboola/go-envelope-client/pkg/request"
)

const (
	maskedAttrValue = "****"
)

type attributes struct {
	config config
	// definitionURL with masked query params
	definitionURL *url.URL
	// definition attributes for span and metrics
	definition []attribute.KeyValue
	// definitionExtra attributes for span only
	definitionExtra []attribute.KeyValue
	// httpRequest attributes for span and metrics
	httpRequest []attribute.KeyValue
	// httpRequestExtra attributes for span only
	httpRequestExtra []attribute.KeyValue
	// httpResponse attributes for span and metrics
	httpResponse []attribute.KeyValue
	// httpResponseExtra attributes for span only
	httpResponseExtra []attribute.KeyValue
}

func newAttributes(cfg config, def request.Definition) *attributes {
	out := &attributes{config: cfg}
	out.definitionURL = cfg.maskURL(def.URL())

	// Definition base
	out.definition = []attribute.KeyValue{
		attribute.String("definition.method", def.Method().String()),
		attribute.String("definition.kind", def.Kind().String()),
		attribute.String("definition.encoding", def.Encoding().String()),
		attribute.String("definition.url.full", out.definitionURL.String()),
		attribute.String("definition.url.path", out.definitionURL.Path),
		attribute.String("definition.url.host.full", out.definitionURL.Host),
	}
	if dotPos := strings.IndexByte(out.definitionURL.Host, '.'); dotPos > 0 {
		// Host parts: to trace service name (host prefix) and domain (host suffix).
		out.definition = append(out.definition,
			attribute.String("definition.url.host.prefix", out.definitionURL.Host[:dotPos]),
			attribute.String("definition.url.host.suffix", strings.TrimLeft(out.definitionURL.Host[dotPos:], ".")),
		)
	}

	// Definition headers and bodies, span only
	out.definitionExtra = append(out.definitionExtra, cfg.headerAttrs("definition.header.", def.Header())...)
	for _, kv := range def.CanonicalBodies() {
		value := maskedAttrValue
		if _, found := cfg.redactedQueryParams[strings.ToLower(kv.Key)]; !found {
			value = request.ToFormBody(map[string]any{kv.Key: kv.Value})[kv.Key]
		}
		out.definitionExtra = append(out.definitionExtra, attribute.String("definition.body."+kv.Key, value))
	}
	out.definitionExtra = append(out.definitionExtra, attribute.Float64("definition.timeout_s", def.Timeout().Seconds()))

	return out
}

func (v *attributes) SetFromRequest(req *http.Request) {
	if req == nil {
		v.httpRequest = nil
		v.httpRequestExtra = nil
		return
	}

	// Base
	reqURL := v.config.maskURL(req.URL)
	v.httpRequest = []attribute.KeyValue{
		semconv.HTTPMethodKey.String(req.Method),
		semconv.HTTPURLKey.String(reqURL.String()),
		semconv.NetPeerNameKey.String(reqURL.Hostname()),
	}
	if port := reqURL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.httpRequest = append(v.httpRequest, semconv.NetPeerPortKey.Int(p))
		}
	}

	// Extra
	v.httpRequestExtra = v.config.headerAttrs("http.header.", req.Header)
	if req.ContentLength > 0 {
		v.httpRequestExtra = append(v.httpRequestExtra, attribute.Int64("http.request_content_length", req.ContentLength))
	}
}

func (v *attributes) SetFromResponse(res *http.Response, err error) {
	if res == nil {
		v.httpResponse = nil
		v.httpResponseExtra = nil
	} else {
		v.httpResponse = []attribute.KeyValue{semconv.HTTPStatusCodeKey.Int(res.StatusCode)}
		v.httpResponseExtra = v.config.headerAttrs("http.response.header.", res.Header)
	}

	// Error
	var netErr net.Error
	errors.As(err, &netErr)
	v.httpResponse = append(v.httpResponse,
		attribute.String("http.response.class", responseClass(res, err)),
		attribute.Bool("http.response.error.has", err != nil),
		attribute.Bool("http.response.error.net", netErr != nil),
		attribute.Bool("http.response.error.timeout", netErr != nil && netErr.Timeout()),
		attribute.Bool("http.response.error.cancelled", errors.Is(err, context.Canceled)),
		attribute.Bool("http.response.error.deadline_exceeded", errors.Is(err, context.DeadlineExceeded)),
	)
}

func (c config) headerAttrs(prefix string, header http.Header) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for key, values := range header {
		key = strings.ToLower(key)
		value := strings.Join(values, ";")
		if _, found := c.redactedHeaders[key]; found {
			value = maskedAttrValue
		}
		attrs = append(attrs, attribute.String(prefix+key, value))
	}
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Key < attrs[j].Key
	})
	return attrs
}

// maskURL returns a copy of the URL with redacted query parameters and without user info.
func (c config) maskURL(in *url.URL) *url.URL {
	out := *in
	out.User = nil
	if out.RawQuery != "" {
		query := out.Query()
		for key := range query {
			if _, found := c.redactedQueryParams[strings.ToLower(key)]; found {
				query.Set(key, maskedAttrValue)
			}
		}
		// Keep the mask readable, url.Values.Encode escapes the asterisks
		out.RawQuery = strings.ReplaceAll(query.Encode(), url.QueryEscape(maskedAttrValue), maskedAttrValue)
	}
	return &out
}
