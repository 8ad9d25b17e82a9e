package otel

import otelMetric "go.opentelemetry.io/otel/metric"

const (
	meterPrefix  = "keboola.go.envelope."
	clientPrefix = meterPrefix + "client."
	httpPrefix   = meterPrefix + "http."
)

type allMeters struct {
	client clientMeters
	http   httpMeters
	parse  parseMeters
}

type clientMeters struct {
	inFlight      otelMetric.Int64UpDownCounter
	duration      otelMetric.Float64Histogram
	downloadBytes otelMetric.Int64Counter
}

type httpMeters struct {
	inFlight otelMetric.Int64UpDownCounter
	duration otelMetric.Float64Histogram
	retries  otelMetric.Int64Counter
}

type parseMeters struct {
	inFlight otelMetric.Int64UpDownCounter
	duration otelMetric.Float64Histogram
	bytes    otelMetric.Int64Counter
}

func newMeters(meter otelMetric.Meter) *allMeters {
	return &allMeters{
		client: clientMeters{
			inFlight:      upDownCounter(meter, clientPrefix+"request.in_flight", "HTTP client: in flight requests."),
			duration:      histogram(meter, clientPrefix+"request.duration", "HTTP client: requests duration.", "ms"),
			downloadBytes: counter(meter, clientPrefix+"download.bytes", "HTTP client: bytes written to download destinations.", "By"),
		},
		http: httpMeters{
			inFlight: upDownCounter(meter, httpPrefix+"request.in_flight", "HTTP request: in flight requests."),
			duration: histogram(meter, httpPrefix+"request.duration", "HTTP request: response received duration (without parsing).", "ms"),
			retries:  counter(meter, httpPrefix+"request.retries", "HTTP request: retries count.", "{retry}"),
		},
		parse: parseMeters{
			inFlight: upDownCounter(meter, clientPrefix+"request.parse.in_flight", "HTTP client: in flight request parsing."),
			duration: histogram(meter, clientPrefix+"request.parse.duration", "HTTP client: request parse duration.", "ms"),
			bytes:    counter(meter, clientPrefix+"request.parse.bytes", "HTTP client: read response body bytes.", "By"),
		},
	}
}

func upDownCounter(meter otelMetric.Meter, name, desc string) otelMetric.Int64UpDownCounter {
	return mustInstrument(meter.Int64UpDownCounter(name, otelMetric.WithDescription(desc)))
}

func counter(meter otelMetric.Meter, name, desc string, unit string) otelMetric.Int64Counter {
	return mustInstrument(meter.Int64Counter(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func histogram(meter otelMetric.Meter, name, desc string, unit string) otelMetric.Float64Histogram {
	return mustInstrument(meter.Float64Histogram(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func mustInstrument[T any](instrument T, err error) T {
	if err != nil {
		panic(err)
	}
	return instrument
}
