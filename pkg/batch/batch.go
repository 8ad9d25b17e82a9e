// Package batch sends a fixed list of plain requests concurrently
// and delivers one aggregate of all outcomes, in the submission order.
//
// The aggregate is delivered once, after every member has reached a terminal state.
// A failed member never fails the whole batch, its error is delivered in its slot.
// Only a batch cancelled before Resume, or a batch without members, delivers an empty aggregate.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/keboola/go-envelope-client/pkg/dispatch"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// DefaultConcurrency is the maximum number of concurrent members, if it is not set by the dispatcher config.
const DefaultConcurrency = 8

// Outcome of one member: the raw response or the transport error.
type Outcome struct {
	Response request.RawResponse
	Err      error
}

// Batch of requests, see the New function.
type Batch struct {
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	ops        []*dispatch.Operation
	sem        *semaphore.Weighted // limit concurrency
	done       chan struct{}

	lock        sync.Mutex // for all fields below
	started     bool
	cancelled   bool
	startTime   time.Time
	slots       []Outcome
	outstanding int
	outcomes    []Outcome // aggregate, set on completion
	handlers    []func([]Outcome)
}

// New creates a batch of plain requests, it is started by the Resume method.
// New panics if a definition is not a plain request or it cannot be sent, see dispatch.Dispatcher.Prepare.
// A batch without definitions is completed immediately.
func New(ctx context.Context, d *dispatch.Dispatcher, defs ...request.Definition) *Batch {
	concurrency := d.BatchConcurrency()
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// All definitions are checked before the batch context is created
	for i, def := range defs {
		if def.Kind() != request.KindPlain {
			panic(fmt.Errorf(`batch member %d "%s" must be a plain request, found "%s"`, i, def.RawURL(), def.Kind()))
		}
		dispatch.CheckDefinition(def)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Batch{
		ctx:         ctx,
		cancel:      cancel,
		dispatcher:  d,
		logger:      d.Logger().With(slog.Int("batch.size", len(defs))),
		ops:         make([]*dispatch.Operation, len(defs)),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		done:        make(chan struct{}),
		slots:       make([]Outcome, len(defs)),
		outstanding: len(defs),
	}
	for i, def := range defs {
		b.ops[i] = d.Prepare(ctx, def)
	}

	if len(defs) == 0 {
		b.lock.Lock()
		b.finish([]Outcome{})
		b.lock.Unlock()
	}

	return b
}

// Do sends the requests and returns results parsed by the schema, in the submission order.
// It blocks until all requests are finished, cancellation of the context cancels the batch.
func Do(ctx context.Context, d *dispatch.Dispatcher, schema envelope.Schema, defs ...request.Definition) envelope.Results {
	return New(ctx, d, defs...).Resume().Results(schema)
}

// Len returns number of members.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Done returns a channel closed when the aggregate is ready.
// Registered handlers may still be running when the channel is closed.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Resume starts all members, it never blocks.
// At most BatchConcurrency members are running at the same time, others wait for a free slot.
// It is a no-op if the batch has already been started, cancelled or completed.
func (b *Batch) Resume() *Batch {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.started || b.cancelled || b.isDone() {
		return b
	}

	b.started = true
	b.startTime = time.Now()
	b.logger.DebugContext(b.ctx, "batch started")
	for i := range b.ops {
		go b.runMember(i)
	}
	return b
}

// Cancel requests cancellation of all members, it does not wait for the cancellation to take effect.
// Completed members keep their outcome, other members end with a transport error caused by context.Canceled.
// If the batch has not been started yet, it is completed with an empty aggregate.
func (b *Batch) Cancel() *Batch {
	b.lock.Lock()
	if b.cancelled || b.isDone() {
		b.lock.Unlock()
		return b
	}

	b.cancelled = true
	b.logger.DebugContext(b.ctx, "batch cancel requested")
	b.cancel()

	// Not started, members are never sent
	if !b.started {
		handlers := b.finish([]Outcome{})
		b.lock.Unlock()
		b.deliver(handlers, b.outcomes)
		return b
	}
	b.lock.Unlock()

	for _, op := range b.ops {
		op.Cancel()
	}
	return b
}

// OnCompleteRaw registers a handler receiving the outcomes of all members, in the submission order.
// Handlers run on the dispatcher callback queue.
// A handler registered after the batch is completed is called once, asynchronously.
func (b *Batch) OnCompleteRaw(fn func(outcomes []Outcome)) *Batch {
	b.lock.Lock()
	if !b.isDone() {
		b.handlers = append(b.handlers, fn)
		b.lock.Unlock()
		return b
	}
	outcomes := b.outcomes
	b.lock.Unlock()

	go b.dispatcher.ExecuteCallback(func() {
		fn(outcomes)
	})
	return b
}

// OnComplete registers a handler receiving all outcomes parsed by the schema, see OnCompleteRaw.
// Each handler parses the outcomes independently, so handlers may use different schemas.
func (b *Batch) OnComplete(schema envelope.Schema, fn func(results envelope.Results)) *Batch {
	return b.OnCompleteRaw(func(outcomes []Outcome) {
		fn(Parse(outcomes, schema))
	})
}

// Wait blocks until the aggregate is ready or the context is done.
func (b *Batch) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-b.done:
		return b.outcomes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Results waits for the aggregate and returns it parsed by the schema.
func (b *Batch) Results(schema envelope.Schema) envelope.Results {
	<-b.done
	return Parse(b.outcomes, schema)
}

// Parse converts outcomes to the results.
func Parse(outcomes []Outcome, schema envelope.Schema) envelope.Results {
	out := make(envelope.Results, len(outcomes))
	for i, o := range outcomes {
		out[i] = dispatch.ParseResponse(o.Response, o.Err, schema)
	}
	return out
}

func (b *Batch) runMember(i int) {
	op := b.ops[i]

	// Limit number of concurrent requests
	if err := b.sem.Acquire(b.ctx, 1); err != nil {
		// Ctx is done, the member has not been started
		b.record(i, Outcome{Err: &envelope.TransportError{Cause: err}})
		return
	}
	defer b.sem.Release(1)

	if err := b.ctx.Err(); err != nil {
		b.record(i, Outcome{Err: &envelope.TransportError{Cause: err}})
		return
	}

	response, err := op.Resume().Wait(context.Background())
	b.record(i, Outcome{Response: response, Err: err})
}

// record stores the outcome to the slot, the last member completes the batch.
func (b *Batch) record(i int, outcome Outcome) {
	b.lock.Lock()
	b.slots[i] = outcome
	b.outstanding--
	if b.outstanding > 0 {
		b.lock.Unlock()
		return
	}
	handlers := b.finish(b.slots)
	outcomes := b.outcomes
	b.lock.Unlock()

	b.cancel()
	b.deliver(handlers, outcomes)
}

func (b *Batch) deliver(handlers []func([]Outcome), outcomes []Outcome) {
	for _, fn := range handlers {
		b.dispatcher.ExecuteCallback(func() {
			fn(outcomes)
		})
	}
}

// finish sets the aggregate and returns the handlers to call, the lock must be held.
func (b *Batch) finish(outcomes []Outcome) []func([]Outcome) {
	b.outcomes = outcomes
	handlers := b.handlers
	b.handlers = nil
	close(b.done)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	attrs := []any{slog.Int("batch.outcomes", len(outcomes)), slog.Int("batch.transport_failed", failed)}
	if !b.startTime.IsZero() {
		attrs = append(attrs, slog.Duration("duration", time.Since(b.startTime)))
	}
	b.logger.DebugContext(b.ctx, "batch completed", attrs...)
	return handlers
}

func (b *Batch) isDone() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
