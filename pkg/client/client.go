// Package client provides the default implementation of the request.Sender interface.
//
// Client is based on the standard net/http package and contains retry and tracing/telemetry support.
// Each request.Definition is converted to a HTTP request according to its kind:
//   - plain requests encode bodies as a query string, form, JSON or XML property list,
//   - uploads stream a file, bytes or a reader,
//   - multipart uploads are buffered in memory up to a threshold, larger bodies are streamed,
//   - downloads are written to a request.Destination, optionally resumed from already received bytes.
//
// The response body is decoded to a generic structure, see request.RawResponse.
// The client never fails because of the HTTP status code, the response envelope is validated by the caller.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	otelMetric "go.opentelemetry.io/otel/metric"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/keboola/go-envelope-client/pkg/client/counter"
	"github.com/keboola/go-envelope-client/pkg/client/decode"
	"github.com/keboola/go-envelope-client/pkg/client/trace"
	"github.com/keboola/go-envelope-client/pkg/client/trace/otel"
	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/destination"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// DefaultUserAgent is sent if no other user agent is set.
const DefaultUserAgent = "keboola-go-envelope-client"

// Client is a default and configurable implementation of the request.Sender interface by Go native http.Client.
// It supports retry and tracing/telemetry.
type Client struct {
	transport          http.RoundTripper
	baseURL            *url.URL
	header             http.Header
	retry              RetryConfig
	cacheSize          int64
	traceFactories     []trace.Factory
	defaultDestination request.Destination
}

// New creates new HTTP Client. Retries are disabled by default.
func New() Client {
	c := Client{
		transport:          DefaultTransport(),
		header:             make(http.Header),
		retry:              NoRetry(),
		cacheSize:          request.DefaultMultipartThreshold,
		defaultDestination: destination.Temp{},
	}
	c.header.Set("User-Agent", DefaultUserAgent)
	c.header.Set("Accept-Encoding", decode.AcceptEncoding)
	return c
}

// NewFromConfig creates new HTTP Client configured by the config.
// In the debug mode, each request is logged to the logger.
func NewFromConfig(cfg config.Config, logger *slog.Logger) Client {
	c := New().
		WithTransport(NewTransport(TransportConfigFrom(cfg))).
		WithCacheSize(cfg.CacheSize)

	if cfg.BaseURL != "" {
		c = c.WithBaseURL(cfg.BaseURL)
	}
	if cfg.UserAgent != "" {
		c = c.WithUserAgent(cfg.UserAgent)
	}
	if cfg.RetryCount > 0 {
		retry := DefaultRetry()
		retry.Count = cfg.RetryCount
		c = c.WithRetry(retry)
	}
	if cfg.Debug && logger != nil {
		c = c.AndTrace(trace.SlogTracer(logger))
	}
	return c
}

// WithBaseURL returns a clone of the Client with base url set.
// The base url is used for requests with a relative URL and without own base URL.
func (c Client) WithBaseURL(baseURLStr string) Client {
	baseURL, err := url.Parse(strings.TrimRight(baseURLStr, "/") + "/")
	if err != nil {
		panic(fmt.Errorf(`base url "%s" is not valid: %w`, baseURLStr, err))
	}
	c.baseURL = baseURL
	return c
}

// WithUserAgent returns a clone of the Client with user agent set.
func (c Client) WithUserAgent(v string) Client {
	c.header = c.header.Clone()
	c.header.Set("User-Agent", v)
	return c
}

// WithHeader returns a clone of the Client with common header set.
func (c Client) WithHeader(key, value string) Client {
	c.header = c.header.Clone()
	c.header.Set(key, value)
	return c
}

// WithHeaders returns a clone of the Client with common headers set.
func (c Client) WithHeaders(headers map[string]string) Client {
	c.header = c.header.Clone()
	for k, v := range headers {
		c.header.Set(k, v)
	}
	return c
}

// WithTransport returns a clone of the Client with a HTTP transport set.
func (c Client) WithTransport(transport http.RoundTripper) Client {
	if transport == nil {
		panic(fmt.Errorf("transport cannot be nil"))
	}
	c.transport = transport
	return c
}

// WithRetry returns a clone of the Client with retry config set.
func (c Client) WithRetry(retry RetryConfig) Client {
	c.retry = retry
	return c
}

// WithCacheSize returns a clone of the Client with the maximum size of a request body buffered in memory.
func (c Client) WithCacheSize(bytes int64) Client {
	if bytes <= 0 {
		panic(fmt.Errorf(`cache size must be positive, found "%d"`, bytes))
	}
	c.cacheSize = bytes
	return c
}

// WithDestination returns a clone of the Client with the destination for downloads without own destination.
func (c Client) WithDestination(dst request.Destination) Client {
	if dst == nil {
		panic(fmt.Errorf("destination cannot be nil"))
	}
	c.defaultDestination = dst
	return c
}

// WithTrace returns a clone of the Client with Trace hooks set.
// All previously registered factories are replaced.
func (c Client) WithTrace(factory trace.Factory) Client {
	c.traceFactories = nil
	return c.AndTrace(factory)
}

// AndTrace returns a clone of the Client with additional Trace hooks.
// Hooks are called in the registration order.
func (c Client) AndTrace(factory trace.Factory) Client {
	if factory == nil {
		return c
	}
	c.traceFactories = append(append([]trace.Factory(nil), c.traceFactories...), factory)
	return c
}

// WithTelemetry returns a clone of the Client with OpenTelemetry spans and metrics.
// A nil provider is replaced by a no-op implementation.
func (c Client) WithTelemetry(tracerProvider otelTrace.TracerProvider, meterProvider otelMetric.MeterProvider, opts ...otel.Option) Client {
	return c.AndTrace(otel.NewTrace(tracerProvider, meterProvider, opts...))
}

// Send method sends the defined request and returns the raw response, it implements the request.Sender interface.
// The progress is updated while the request body is uploaded or the response body is downloaded, it may be nil.
func (c Client) Send(ctx context.Context, def request.Definition, progress *request.Progress) (out request.RawResponse, err error) {
	// Method cannot be called on an empty value
	if c.transport == nil {
		panic(fmt.Errorf("client value is not initialized"))
	}

	// If url is not set, panic occurs. So we get the value first.
	kind := def.Kind()
	reqURL := def.URL()
	if c.baseURL != nil && !reqURL.IsAbs() {
		reqURL.Path = strings.TrimLeft(reqURL.Path, "/")
		reqURL = c.baseURL.ResolveReference(reqURL)
	}

	// Init trace, factories are called in the registration order
	var tc *trace.ClientTrace
	for _, factory := range c.traceFactories {
		var t *trace.ClientTrace
		ctx, t = factory(ctx, def)
		if t == nil {
			continue
		}
		t.Compose(tc)
		tc = t
	}
	if tc != nil {
		ctx = httptrace.WithClientTrace(ctx, &tc.ClientTrace)
		if tc.RequestProcessed != nil {
			defer func() {
				tc.RequestProcessed(out, err)
			}()
		}
	}

	// The timeout covers the whole request, including the body processing
	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	// Encode body
	var body requestBody
	switch kind {
	case request.KindPlain, request.KindDownload:
		body, err = encodePlain(def, reqURL)
	case request.KindUpload:
		encodeQuery(reqURL, def.Bodies())
		body, err = encodeUpload(def.Upload())
	case request.KindMultipartUpload:
		encodeQuery(reqURL, def.Bodies())
		body, err = encodeMultipart(ctx, def.Multipart(), c.cacheSize)
	default:
		panic(fmt.Errorf(`unexpected request kind "%s"`, kind))
	}
	if err != nil {
		return out, fmt.Errorf(`request %s "%s" failed: %w`, def.Method(), reqURL.String(), err)
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, def.Method().String(), reqURL.String(), nil)
	if err != nil {
		return out, err
	}

	// Global headers
	for k, values := range c.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Request headers
	for k, values := range def.Header() {
		req.Header.Del(k) // clear global values
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Body
	isUpload := kind == request.KindUpload || kind == request.KindMultipartUpload
	if body.factory != nil {
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", body.contentType)
		}
		openBody := func() (io.ReadCloser, error) {
			r, err := body.open()
			if err != nil {
				return nil, fmt.Errorf(`request %s "%s": cannot prepare request body: %w`, req.Method, req.URL.String(), err)
			}
			if isUpload && progress != nil {
				progress.Reset()
				return counter.NewReadCloser(r, nil).WithOnRead(progress.Add), nil
			}
			return r, nil
		}
		if isUpload {
			progress.SetTotal(body.length)
		}
		req.ContentLength = body.length
		if req.Body, err = openBody(); err != nil {
			return out, err
		}
		// GetBody factory is used for requests when a redirect/retry requires reading the body more than once.
		if body.rewindable {
			req.GetBody = openBody
		}
	}

	// Resume download
	if kind == request.KindDownload {
		if resumeData := def.Download().ResumeData; len(resumeData) > 0 {
			req.Header.Set("Range", rangeHeader(resumeData))
		}
	}

	// Setup native client
	nativeClient := http.Client{
		Transport: roundTripper{trace: tc, retry: c.retry, wrapped: c.transport}, // wrapped transport for trace/retry
	}

	// Send request
	startedAt := time.Now()
	res, err := nativeClient.Do(req) //nolint:bodyclose // closed by the response handlers
	if err != nil {
		return out, handleSendError(startedAt, def.Timeout(), req, err)
	}

	// Process body
	switch kind {
	case request.KindDownload:
		out, err = handleDownload(ctx, res, def.Download(), c.defaultDestination, progress, tc)
	case request.KindUpload, request.KindMultipartUpload:
		// Progress tracks the upload, not the response
		out, err = handleResponseBody(res, nil, tc)
	default:
		out, err = handleResponseBody(res, progress, tc)
	}
	if err != nil {
		err = fmt.Errorf(`cannot process request %s "%s": %w`, req.Method, req.URL.String(), err)
	}
	return out, err
}

func handleSendError(startedAt time.Time, timeout time.Duration, req *http.Request, err error) error {
	// Timeout
	var netErr net.Error
	if deadline, ok := req.Context().Deadline(); ok && errors.Is(err, context.DeadlineExceeded) {
		err = urlError(req, fmt.Errorf("timeout after %s: %w", deadline.Sub(startedAt).Round(time.Millisecond), context.DeadlineExceeded))
	} else if errors.Is(err, context.Canceled) {
		err = urlError(req, fmt.Errorf("canceled after %s: %w", time.Since(startedAt).Round(time.Millisecond), context.Canceled))
	} else if errors.As(err, &netErr) && netErr.Timeout() {
		if strings.Contains(err.Error(), "Client.Timeout exceeded") {
			err = urlError(req, fmt.Errorf("timeout after %s", timeout))
		} else {
			err = urlError(req, fmt.Errorf("timeout after %s", time.Since(startedAt).Round(time.Millisecond)))
		}
	}

	// Url error
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf(`request %s "%s" failed: %w`, strings.ToUpper(urlErr.Op), urlErr.URL, urlErr.Err)
	}

	return err
}

// roundTripper wraps a http.RoundTripper and adds trace and retry functionality.
type roundTripper struct {
	trace   *trace.ClientTrace
	retry   RetryConfig
	wrapped http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	state := rt.retry.NewBackoff()
	attempt := 0
	for {
		// Trace request start
		if rt.trace != nil && rt.trace.HTTPRequestStart != nil {
			rt.trace.HTTPRequestStart(req)
		}

		// Send
		res, err := rt.wrapped.RoundTrip(req)

		// Trace request done
		if rt.trace != nil && rt.trace.HTTPRequestDone != nil {
			rt.trace.HTTPRequestDone(res, err)
		}

		// Check if we should retry
		if rt.retry.Condition == nil || !rt.retry.Condition(res, err) || attempt >= rt.retry.Count {
			// No retry
			return res, err
		}

		// A stream body can be read only once
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			return res, err
		}

		// Get next delay
		delay := state.NextBackOff()
		if delay == backoff.Stop {
			// Stop
			return res, err
		}

		// Discard the response, it will be replaced
		if res != nil && res.Body != nil {
			_, _ = io.Copy(io.Discard, res.Body)
			_ = res.Body.Close()
		}

		// Trace retry
		attempt++
		if rt.trace != nil && rt.trace.HTTPRequestRetry != nil {
			rt.trace.HTTPRequestRetry(attempt, delay)
		}

		// Rewind body before retry
		if req.GetBody != nil {
			req.Body, err = req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("cannot rewind body: %w", err)
			}
		}

		// Wait
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			// context is canceled
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
			// time elapsed, retry
		}
	}
}

func urlError(req *http.Request, err error) *url.Error {
	return &url.Error{Op: req.Method, URL: req.URL.String(), Err: err}
}

var _ request.Sender = Client{}
