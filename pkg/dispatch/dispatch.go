// Package dispatch bridges request descriptors to the request.Sender.
//
// Each request.Definition is sent as one Operation. The Operation runs the transport call
// on its own goroutine and notifies registered callbacks once, when it reaches a terminal state:
//
//	idle -(Resume)-> running -(transport done)-> completed
//	                 running -(Cancel)---------> cancelled
//
// A request to an unreachable target is not sent at all,
// it completes with an envelope.TransportError caused by envelope.ErrNetworkUnavailable.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/queue"
	"github.com/keboola/go-envelope-client/pkg/reachability"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// Dispatcher creates and starts operations, it is safe for concurrent use.
type Dispatcher struct {
	sender      request.Sender
	logger      *slog.Logger
	checker     reachability.Checker
	callbacks   queue.Executor
	debug       bool
	timeout     time.Duration
	concurrency int
}

type Option func(d *Dispatcher)

// WithLogger sets the logger, logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConfig applies the debug mode, the default request timeout and the batch concurrency from the configuration.
// The timeout replaces request.DefaultTimeout, a timeout set explicitly in the definition is kept.
func WithConfig(cfg config.Config) Option {
	return func(d *Dispatcher) {
		d.debug = cfg.Debug
		d.timeout = cfg.RequestTimeout
		d.concurrency = cfg.BatchConcurrency
	}
}

// WithReachability sets the checker called before each transport call, see reachability.Always.
func WithReachability(checker reachability.Checker) Option {
	return func(d *Dispatcher) {
		if checker != nil {
			d.checker = checker
		}
	}
}

// WithCallbackQueue sets the executor of the completion callbacks, see queue.Inline.
func WithCallbackQueue(executor queue.Executor) Option {
	return func(d *Dispatcher) {
		if executor != nil {
			d.callbacks = executor
		}
	}
}

// New creates a Dispatcher sending requests by the sender, for example client.Client.
func New(sender request.Sender, opts ...Option) *Dispatcher {
	if sender == nil {
		panic(fmt.Errorf("sender cannot be nil"))
	}
	d := &Dispatcher{
		sender:    sender,
		logger:    slog.New(slog.DiscardHandler),
		checker:   reachability.Always(),
		callbacks: queue.Inline(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Logger returns the dispatcher logger.
func (d *Dispatcher) Logger() *slog.Logger {
	return d.logger
}

// Callbacks returns the executor of the completion callbacks.
func (d *Dispatcher) Callbacks() queue.Executor {
	return d.callbacks
}

// ExecuteCallback runs the callback on the callback queue.
// A callback submitted to a closed queue is dropped with a warning.
func (d *Dispatcher) ExecuteCallback(fn func()) {
	if err := queue.TryExecute(d.callbacks, fn); err != nil {
		d.logger.Warn("callback dropped", slog.String("error", err.Error()))
	}
}

// BatchConcurrency returns the configured maximum number of concurrent operations in a batch, or 0 if it is not set.
func (d *Dispatcher) BatchConcurrency() int {
	return d.concurrency
}

// Prepare creates an idle Operation, it is started by the Operation.Resume method.
//
// Prepare panics if the definition can never be sent:
// the URL is not set or is not valid, an upload has no source, a multipart upload has no parts or a part has no source.
func (d *Dispatcher) Prepare(ctx context.Context, def request.Definition) *Operation {
	CheckDefinition(def)
	if d.timeout > 0 && def.Timeout() == request.DefaultTimeout {
		def = def.WithTimeout(d.timeout)
	}
	return newOperation(ctx, d, def)
}

// Send creates and starts an Operation, it never blocks on I/O.
func (d *Dispatcher) Send(ctx context.Context, def request.Definition) *Operation {
	return d.Prepare(ctx, def).Resume()
}

// CheckDefinition panics on a definition that can never be sent, see Prepare.
func CheckDefinition(def request.Definition) {
	// URL method panics if the URL is not set or is not valid
	_ = def.URL()

	switch def.Kind() {
	case request.KindPlain, request.KindDownload:
		// nop
	case request.KindUpload:
		if def.Upload().IsEmpty() {
			panic(fmt.Errorf(`upload request "%s" has no source: set a file, data or stream`, def.RawURL()))
		}
	case request.KindMultipartUpload:
		parts := def.Multipart().Parts
		if len(parts) == 0 {
			panic(fmt.Errorf(`multipart request "%s" has no part`, def.RawURL()))
		}
		for i, part := range parts {
			if part.Source.IsEmpty() {
				panic(fmt.Errorf(`multipart request "%s": part %d "%s" has no source`, def.RawURL(), i, part.Name))
			}
		}
	default:
		panic(fmt.Errorf(`unexpected request kind "%s"`, def.Kind()))
	}
}
