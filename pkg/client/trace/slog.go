package trace

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/keboola/go-envelope-client/pkg/request"
)

// SlogTracer logs each stage of each request to the structured logger, at the debug level.
func SlogTracer(logger *slog.Logger) Factory {
	var idGenerator uint64
	return func(ctx context.Context, def request.Definition) (context.Context, *ClientTrace) {
		log := logger.With(
			slog.Uint64("request.id", atomic.AddUint64(&idGenerator, 1)),
			slog.String("request.kind", def.Kind().String()),
		)

		var startTime time.Time
		t := &ClientTrace{}
		t.HTTPRequestStart = func(r *http.Request) {
			startTime = time.Now()
			log.DebugContext(ctx, "http request start", slog.String("method", r.Method), slog.String("url", r.URL.String()))
		}
		t.HTTPRequestDone = func(r *http.Response, err error) {
			attrs := []any{slog.Duration("duration", time.Since(startTime))}
			if r != nil {
				attrs = append(attrs, slog.Int("status", r.StatusCode))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			log.DebugContext(ctx, "http request done", attrs...)
		}
		t.HTTPRequestRetry = func(attempt int, delay time.Duration) {
			log.DebugContext(ctx, "http request retry", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		}
		t.BodyParseDone = func(r *http.Response, read int64, err error) {
			attrs := []any{slog.Int64("bytes", read)}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			log.DebugContext(ctx, "http response body read", attrs...)
		}
		t.RequestProcessed = func(response request.RawResponse, err error) {
			if err != nil {
				log.DebugContext(ctx, "request failed", slog.String("error", err.Error()))
				return
			}
			log.DebugContext(ctx, "request processed", slog.Int("status", response.StatusCode), slog.Bool("body", response.HasBody))
		}
		return ctx, t
	}
}
