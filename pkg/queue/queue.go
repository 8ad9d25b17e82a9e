// Package queue provides executors of completion callbacks.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned if a callback is submitted to a closed queue.
var ErrClosed = errors.New("callback queue is closed")

// Executor runs callbacks.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc is an adapter to allow the use of ordinary functions as Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// TryExecutor is an Executor that can refuse the callback.
type TryExecutor interface {
	Executor
	TryExecute(fn func()) error
}

// TryExecute submits the callback, it returns ErrClosed instead of a panic if the executor is closed.
// An executor that cannot be closed always accepts the callback.
func TryExecute(e Executor, fn func()) error {
	if t, ok := e.(TryExecutor); ok {
		return t.TryExecute(fn)
	}
	e.Execute(fn)
	return nil
}

type inline struct{}

// Inline executor runs the callback immediately, on the calling goroutine.
func Inline() Executor {
	return inline{}
}

func (inline) Execute(fn func()) {
	fn()
}

type goroutine struct{}

// Goroutine executor runs each callback on a new goroutine.
func Goroutine() Executor {
	return goroutine{}
}

func (goroutine) Execute(fn func()) {
	go fn()
}

// Serial executor runs callbacks one by one, in FIFO order, on a single worker goroutine.
// The queue is unbounded, Execute never blocks.
type Serial struct {
	lock    sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewSerial starts the worker goroutine, it is stopped by the Close method.
func NewSerial() *Serial {
	s := &Serial{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.lock)
	go s.run()
	return s
}

// Execute panics if the queue is closed, see TryExecute.
func (s *Serial) Execute(fn func()) {
	if err := s.TryExecute(fn); err != nil {
		panic(err)
	}
}

func (s *Serial) TryExecute(fn func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, fn)
	s.cond.Signal()
	return nil
}

// Close waits for all pending callbacks and stops the worker.
func (s *Serial) Close() {
	s.lock.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Signal()
	}
	s.lock.Unlock()
	<-s.done
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		s.lock.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 && s.closed {
			s.lock.Unlock()
			return
		}
		fn := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.lock.Unlock()

		fn()
	}
}
