// Package otel provides OpenTelemetry tracing and metrics for requests sent by the client.Client.
//
// The package provides 3 levels of telemetry:
//
// 1. Request telemetry:
//   - Span "keboola.go.envelope.client.request" wraps all redirects and retries of a request.Definition.
//   - Span "keboola.go.envelope.client.request.body.parse" tracks response receiving and decoding (as a stream).
//   - Span "keboola.go.envelope.client.retry.delay" tracks delay before retry.
//   - Metrics names start with "keboola.go.envelope.client." (clientPrefix const).
//
// 2. HTTP telemetry:
//   - Span "http.request" for every sent HTTP request, including redirects and retries.
//   - Metrics names start with "keboola.go.envelope.http." (httpPrefix const).
//
// 3. Low-level telemetry based on the httptrace package:
//   - Spans for HTTP request parts: "http.dns", "http.getconn", "http.connect", "http.tls".
//   - Metrics are not provided.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelMetric "go.opentelemetry.io/otel/metric"
	metricNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keboola/go-envelope-client/pkg/client/trace"
	"github.com/keboola/go-envelope-client/pkg/request"
)

const (
	traceAppName     = "github.com/keboola/go-envelope-client"
	attrResourceName = attribute.Key("resource.name")
	// Low-level tracing, for each redirect and retry.
	httpSpanPrefix           = "http."
	httpRequestSpanName      = httpSpanPrefix + "request"
	httpDNSSpanName          = httpSpanPrefix + "dns"
	httpGetConnSpanName      = httpSpanPrefix + "getconn"
	httpConnectSpanName      = httpSpanPrefix + "connect"
	httpTLSHandshakeSpanName = httpSpanPrefix + "tls"
	attrDNSAddresses         = attribute.Key("http.dns.addrs")
	attrRemoteAddr           = attribute.Key("http.remote")
	attrLocalAddr            = attribute.Key("http.local")
	attrConnectionReused     = attribute.Key("http.conn.reused")
	attrConnectionWasIdle    = attribute.Key("http.conn.wasidle")
	attrConnectionIdleTime   = attribute.Key("http.conn.idletime")
	attrConnectionNetwork    = attribute.Key("http.conn.network")
	attrReadBytes            = attribute.Key("http.read_bytes")
	// High-level tracing.
	clientSpanPrefix         = "keboola.go.envelope.client."
	clientRequestSpanName    = clientSpanPrefix + "request"
	clientBodyParseSpanName  = clientSpanPrefix + "request.body.parse"
	clientRetryDelaySpanName = clientSpanPrefix + "retry.delay"
	attrDownloadLocation     = attribute.Key("download.location")
	attrDownloadWritten      = attribute.Key("download.written_bytes")
	// Extra attributes for DataDog.
	attrSpanKind            = attribute.Key("span.kind")
	attrSpanKindValueClient = "client"
	attrSpanType            = attribute.Key("span.type")
	attrSpanTypeValueHTTP   = "http"
)

// NewTrace creates a trace.Factory with OpenTelemetry spans and metrics.
// A nil provider is replaced by a no-op implementation.
func NewTrace(tracerProvider otelTrace.TracerProvider, meterProvider otelMetric.MeterProvider, opts ...Option) trace.Factory {
	cfg := newConfig(opts)
	if tracerProvider == nil {
		tracerProvider = noop.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = metricNoop.NewMeterProvider()
	}
	tracer := tracerProvider.Tracer(traceAppName)
	meters := newMeters(meterProvider.Meter(traceAppName))

	return func(ctx context.Context, def request.Definition) (context.Context, *trace.ClientTrace) {
		t := &requestTrace{
			config: cfg,
			tracer: tracer,
			meters: meters,
			attrs:  newAttributes(cfg, def),
		}
		t.start(ctx)
		return t.rootCtx, t.clientTrace()
	}
}

// requestTrace holds state of one request.Definition, it may contain multiple HTTP requests (redirects, retries).
type requestTrace struct {
	config config
	tracer otelTrace.Tracer
	meters *allMeters
	attrs  *attributes

	rootCtx   context.Context
	rootSpan  otelTrace.Span
	startTime time.Time

	httpCtx          context.Context
	httpSpan         otelTrace.Span
	httpStartTime    time.Time
	retryDelaySpan   otelTrace.Span
	bodyParseSpan    otelTrace.Span
	bodyParseStart   time.Time
	bodyParseAttrs   []attribute.KeyValue
	dnsSpan          otelTrace.Span
	getConnSpan      otelTrace.Span
	connectSpan      otelTrace.Span
	tlsHandshakeSpan otelTrace.Span
}

func (t *requestTrace) clientTrace() *trace.ClientTrace {
	return &trace.ClientTrace{
		ClientTrace: httptrace.ClientTrace{
			DNSStart:          t.dnsStart,
			DNSDone:           t.dnsDone,
			GetConn:           t.getConn,
			GotConn:           t.gotConn,
			ConnectStart:      t.connectStart,
			ConnectDone:       t.connectDone,
			TLSHandshakeStart: t.tlsHandshakeStart,
			TLSHandshakeDone:  t.tlsHandshakeDone,
		},
		HTTPRequestStart: t.httpRequestStart,
		HTTPRequestDone:  t.httpRequestDone,
		HTTPRequestRetry: t.httpRequestRetry,
		BodyParseStart:   t.bodyParseStarted,
		BodyParseDone:    t.bodyParseDone,
		RequestProcessed: t.requestProcessed,
	}
}

// start creates the root span and metrics.
func (t *requestTrace) start(ctx context.Context) {
	t.startTime = time.Now()
	t.meters.client.inFlight.Add(ctx, 1, otelMetric.WithAttributes(t.attrs.definition...))
	t.rootCtx, t.rootSpan = t.tracer.Start(
		ctx,
		clientRequestSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(
			attrResourceName.String(t.attrs.definitionURL.Path),
			attrSpanKind.String(attrSpanKindValueClient),
			attrSpanType.String(attrSpanTypeValueHTTP),
		),
		otelTrace.WithAttributes(t.attrs.definition...),
		otelTrace.WithAttributes(t.attrs.definitionExtra...),
	)
	t.httpCtx = t.rootCtx
}

func (t *requestTrace) requestProcessed(response request.RawResponse, err error) {
	elapsedTime := float64(time.Since(t.startTime)) / float64(time.Millisecond)

	// Metrics, the in flight counter must be decremented with the same attributes as it was incremented
	meterAttrs := append(append([]attribute.KeyValue(nil), t.attrs.definition...), t.attrs.httpResponse...)
	t.meters.client.inFlight.Add(t.rootCtx, -1, otelMetric.WithAttributes(t.attrs.definition...))
	t.meters.client.duration.Record(t.rootCtx, elapsedTime, otelMetric.WithAttributes(meterAttrs...))
	if response.Location != "" {
		t.meters.client.downloadBytes.Add(t.rootCtx, response.Written, otelMetric.WithAttributes(t.attrs.definition...))
	}

	// Tracing
	t.endSpan(&t.retryDelaySpan, nil)
	t.endSpan(&t.httpSpan, nil)
	t.rootSpan.SetAttributes(t.attrs.httpResponse...)
	t.rootSpan.SetAttributes(t.attrs.httpResponseExtra...)
	if response.Location != "" {
		t.rootSpan.SetAttributes(attrDownloadLocation.String(response.Location), attrDownloadWritten.Int64(response.Written))
	}
	if err == nil {
		t.rootSpan.End()
	} else {
		t.rootSpan.RecordError(err)
		t.rootSpan.SetStatus(codes.Error, err.Error())
		t.rootSpan.End(otelTrace.WithStackTrace(true))
	}
}

func (t *requestTrace) httpRequestStart(req *http.Request) {
	t.endSpan(&t.retryDelaySpan, nil)

	t.httpCtx, t.httpSpan = t.tracer.Start(
		t.rootCtx,
		httpRequestSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(
			attrSpanKind.String(attrSpanKindValueClient),
			attrSpanType.String(attrSpanTypeValueHTTP),
		),
	)

	// Inject trace headers
	if t.config.propagators != nil {
		t.config.propagators.Inject(t.httpCtx, propagation.HeaderCarrier(req.Header))
	}

	t.httpStartTime = time.Now()
	t.attrs.SetFromRequest(req)
	t.meters.http.inFlight.Add(t.rootCtx, 1, otelMetric.WithAttributes(t.attrs.httpRequest...))
	t.httpSpan.SetAttributes(attrResourceName.String(t.config.maskURL(req.URL).Path))
	t.httpSpan.SetAttributes(t.attrs.httpRequest...)
	t.httpSpan.SetAttributes(t.attrs.httpRequestExtra...)
}

func (t *requestTrace) httpRequestDone(res *http.Response, err error) {
	elapsedTime := float64(time.Since(t.httpStartTime)) / float64(time.Millisecond)
	t.attrs.SetFromResponse(res, err)

	// Metrics
	t.meters.http.inFlight.Add(t.rootCtx, -1, otelMetric.WithAttributes(t.attrs.httpRequest...))
	t.meters.http.duration.Record(
		t.rootCtx,
		elapsedTime,
		otelMetric.WithAttributes(t.attrs.httpRequest...),
		otelMetric.WithAttributes(t.attrs.httpResponse...),
	)

	// Tracing
	if t.httpSpan == nil {
		return
	}
	t.httpSpan.SetAttributes(t.attrs.httpResponse...)
	t.httpSpan.SetAttributes(t.attrs.httpResponseExtra...)
	if err == nil && res != nil && res.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf(`HTTP status code: %d %s`, res.StatusCode, http.StatusText(res.StatusCode))
	}
	t.endSpan(&t.httpSpan, err)
}

func (t *requestTrace) httpRequestRetry(attempt int, delay time.Duration) {
	t.meters.http.retries.Add(t.rootCtx, 1, otelMetric.WithAttributes(t.attrs.definition...))

	// The span is ended by the next HTTP request or by the RequestProcessed hook
	_, t.retryDelaySpan = t.tracer.Start(
		t.rootCtx,
		clientRetryDelaySpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(t.attrs.httpRequest...),
		otelTrace.WithAttributes(t.attrs.httpResponse...),
		otelTrace.WithAttributes(
			attribute.Int("api.request.retry.attempt", attempt),
			attribute.Int64("api.request.retry.delay_ms", delay.Milliseconds()),
			attribute.String("api.request.retry.delay_string", delay.String()),
		),
	)
}

func (t *requestTrace) bodyParseStarted(_ *http.Response) {
	t.bodyParseStart = time.Now()
	t.bodyParseAttrs = append(append([]attribute.KeyValue(nil), t.attrs.definition...), t.attrs.httpResponse...)
	t.meters.parse.inFlight.Add(t.rootCtx, 1, otelMetric.WithAttributes(t.bodyParseAttrs...))
	_, t.bodyParseSpan = t.tracer.Start(
		t.rootCtx,
		clientBodyParseSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(t.attrs.httpRequest...),
		otelTrace.WithAttributes(t.attrs.httpResponse...),
	)
}

func (t *requestTrace) bodyParseDone(_ *http.Response, read int64, err error) {
	elapsedTime := float64(time.Since(t.bodyParseStart)) / float64(time.Millisecond)
	t.meters.parse.inFlight.Add(t.rootCtx, -1, otelMetric.WithAttributes(t.bodyParseAttrs...))
	t.meters.parse.duration.Record(t.rootCtx, elapsedTime, otelMetric.WithAttributes(t.bodyParseAttrs...))
	t.meters.parse.bytes.Add(t.rootCtx, read, otelMetric.WithAttributes(t.bodyParseAttrs...))
	if t.bodyParseSpan != nil {
		t.bodyParseSpan.SetAttributes(attrReadBytes.Int64(read))
	}
	t.endSpan(&t.bodyParseSpan, err)
}

func (t *requestTrace) dnsStart(info httptrace.DNSStartInfo) {
	_, t.dnsSpan = t.tracer.Start(
		t.httpCtx,
		httpDNSSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(semconv.NetHostNameKey.String(info.Host)),
	)
}

func (t *requestTrace) dnsDone(info httptrace.DNSDoneInfo) {
	if t.dnsSpan == nil {
		return
	}
	var addrs []string
	for _, netAddr := range info.Addrs {
		addrs = append(addrs, netAddr.String())
	}
	t.dnsSpan.SetAttributes(attrDNSAddresses.String(strings.Join(addrs, ";")))
	t.endSpan(&t.dnsSpan, info.Err)
}

func (t *requestTrace) getConn(host string) {
	_, t.getConnSpan = t.tracer.Start(
		t.httpCtx,
		httpGetConnSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(semconv.NetHostNameKey.String(host)),
	)
}

func (t *requestTrace) gotConn(info httptrace.GotConnInfo) {
	if t.getConnSpan == nil {
		return
	}
	t.getConnSpan.SetAttributes(
		attrRemoteAddr.String(info.Conn.RemoteAddr().String()),
		attrLocalAddr.String(info.Conn.LocalAddr().String()),
		attrConnectionReused.Bool(info.Reused),
		attrConnectionWasIdle.Bool(info.WasIdle),
	)
	if info.WasIdle {
		t.getConnSpan.SetAttributes(attrConnectionIdleTime.String(info.IdleTime.String()))
	}
	t.endSpan(&t.getConnSpan, nil)
}

func (t *requestTrace) connectStart(network, addr string) {
	_, t.connectSpan = t.tracer.Start(
		t.httpCtx,
		httpConnectSpanName,
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
		otelTrace.WithAttributes(attrRemoteAddr.String(addr), attrConnectionNetwork.String(network)),
	)
}

func (t *requestTrace) connectDone(_, _ string, err error) {
	t.endSpan(&t.connectSpan, err)
}

// TLS handshake is not reported if the http2.Transport is used directly, without upgrade from http.Transport.
func (t *requestTrace) tlsHandshakeStart() {
	_, t.tlsHandshakeSpan = t.tracer.Start(t.httpCtx, httpTLSHandshakeSpanName, otelTrace.WithSpanKind(otelTrace.SpanKindClient))
}

func (t *requestTrace) tlsHandshakeDone(_ tls.ConnectionState, err error) {
	t.endSpan(&t.tlsHandshakeSpan, err)
}

// endSpan records the error, if any, ends the span and clears the reference.
func (t *requestTrace) endSpan(span *otelTrace.Span, err error) {
	if *span == nil {
		return
	}
	if err != nil {
		(*span).RecordError(err)
		(*span).SetStatus(codes.Error, err.Error())
	}
	(*span).End()
	*span = nil
}
