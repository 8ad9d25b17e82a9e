package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// State of the Operation.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no other transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CompleteFunc receives the raw response or the error of a finished Operation.
type CompleteFunc func(response request.RawResponse, err error)

// Operation is a handle of one sent request.Definition.
type Operation struct {
	dispatcher *Dispatcher
	def        request.Definition
	ctx        context.Context
	cancel     context.CancelFunc
	progress   *request.Progress
	logger     *slog.Logger
	done       chan struct{}

	lock      sync.Mutex
	state     State
	startTime time.Time
	response  request.RawResponse
	err       error
	callbacks []CompleteFunc
}

func newOperation(ctx context.Context, d *Dispatcher, def request.Definition) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	return &Operation{
		dispatcher: d,
		def:        def,
		ctx:        ctx,
		cancel:     cancel,
		progress:   request.NewProgress(),
		logger:     d.logger.With(slog.String("method", def.Method().String()), slog.String("url", def.RawURL()), slog.String("kind", def.Kind().String())),
		done:       make(chan struct{}),
	}
}

// Definition returns the sent definition, including the applied default timeout.
func (o *Operation) Definition() request.Definition {
	return o.def
}

// State returns the current state.
func (o *Operation) State() State {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.state
}

// Resume starts the transport call on a new goroutine.
// It is a no-op if the operation is not idle.
func (o *Operation) Resume() *Operation {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.state != StateIdle {
		return o
	}

	o.state = StateRunning
	o.startTime = time.Now()
	if o.dispatcher.debug {
		o.logger.DebugContext(o.ctx, "request started", slog.String("definition", o.def.String()))
	} else {
		o.logger.DebugContext(o.ctx, "request started")
	}

	go o.run()
	return o
}

// Cancel requests cancellation of a running operation, it does not wait for the transport call to stop.
// It is a no-op if the operation is not running.
func (o *Operation) Cancel() *Operation {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.state != StateRunning {
		return o
	}

	o.state = StateCancelled
	o.cancel()
	o.logger.DebugContext(o.ctx, "request cancel requested")
	return o
}

// Progress returns snapshot of the transferred bytes, it is meaningful for uploads and downloads only.
// The total is -1 if it is not known.
func (o *Operation) Progress() (completed, total int64) {
	return o.progress.Get()
}

// Done returns a channel closed when the operation reaches a terminal state.
// Registered callbacks may still be running when the channel is closed.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation is finished or the context is done.
// It does not wait for the callbacks, see Done.
func (o *Operation) Wait(ctx context.Context) (request.RawResponse, error) {
	select {
	case <-o.done:
		return o.response, o.err
	case <-ctx.Done():
		return request.RawResponse{}, ctx.Err()
	}
}

// OnComplete registers a callback called once, when the operation is finished.
// Callbacks run on the dispatcher callback queue.
// A callback registered after the operation is finished is called asynchronously.
func (o *Operation) OnComplete(fn CompleteFunc) *Operation {
	o.lock.Lock()
	if !o.isDone() {
		o.callbacks = append(o.callbacks, fn)
		o.lock.Unlock()
		return o
	}
	response, err := o.response, o.err
	o.lock.Unlock()

	go o.dispatcher.ExecuteCallback(func() {
		fn(response, err)
	})
	return o
}

// OnResult registers a callback receiving the response parsed by the schema, see OnComplete.
func (o *Operation) OnResult(schema envelope.Schema, fn func(result envelope.Result)) *Operation {
	return o.OnComplete(func(response request.RawResponse, err error) {
		fn(ParseResponse(response, err, schema))
	})
}

// Result waits for the operation and returns the response parsed by the schema.
func (o *Operation) Result(schema envelope.Schema) envelope.Result {
	<-o.done
	return ParseResponse(o.response, o.err, schema)
}

func (o *Operation) run() {
	defer o.cancel()

	// Short-circuit, the request cannot reach the target
	if !o.dispatcher.checker.Reachable(o.ctx, o.def.URL()) {
		o.complete(request.RawResponse{}, &envelope.TransportError{Cause: envelope.ErrNetworkUnavailable})
		return
	}

	response, err := o.dispatcher.sender.Send(o.ctx, o.def, o.progress)
	o.complete(response, err)
}

func (o *Operation) complete(response request.RawResponse, err error) {
	o.lock.Lock()

	switch o.state {
	case StateRunning:
		if err != nil && errors.Is(err, context.Canceled) {
			// The parent context has been cancelled
			o.state = StateCancelled
		} else {
			o.state = StateCompleted
		}
	case StateCancelled:
		// The transport may have finished before the cancellation took effect, the result is dropped
		if !errors.Is(err, context.Canceled) {
			err = context.Canceled
		}
	default:
		o.lock.Unlock()
		panic(errors.New("operation completed in an unexpected state: " + o.state.String()))
	}

	if o.state == StateCancelled {
		response = request.RawResponse{}
		if !envelope.IsTransport(err) {
			err = &envelope.TransportError{Cause: err}
		}
	}

	o.response = response
	o.err = err
	callbacks := o.callbacks
	o.callbacks = nil
	o.log(response, err)
	close(o.done)
	o.lock.Unlock()

	for _, fn := range callbacks {
		o.dispatcher.ExecuteCallback(func() {
			fn(response, err)
		})
	}
}

func (o *Operation) isDone() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func (o *Operation) log(response request.RawResponse, err error) {
	attrs := []any{slog.String("state", o.state.String()), slog.Duration("duration", time.Since(o.startTime))}
	if response.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", response.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.logger.DebugContext(o.ctx, "request failed", attrs...)
		return
	}
	o.logger.DebugContext(o.ctx, "request completed", attrs...)
}
