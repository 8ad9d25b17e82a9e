package request

import (
	"context"
	"net/http"
	"sync/atomic"
)

// Sender represents the transport port, the client.Client is a default implementation using the standard net/http package.
type Sender interface {
	// Send method sends defined request and returns the raw response.
	// The call blocks until the response is received or the context is cancelled.
	// The progress counters are updated while the request or response body is transferred, the progress may be nil.
	Send(ctx context.Context, def Definition, progress *Progress) (RawResponse, error)
}

// SenderFunc is an adapter to allow the use of ordinary functions as Sender.
type SenderFunc func(ctx context.Context, def Definition, progress *Progress) (RawResponse, error)

func (f SenderFunc) Send(ctx context.Context, def Definition, progress *Progress) (RawResponse, error) {
	return f(ctx, def, progress)
}

// RawResponse is an unparsed response returned by the Sender.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	// Bytes of the response body, empty for downloads.
	Bytes []byte
	// Body is the structurally decoded response body: map[string]any, []any, string, float64, bool or nil.
	// It is nil if the body is empty or cannot be decoded.
	Body any
	// HasBody is true if the Body has been decoded.
	HasBody bool
	// Location of the downloaded file, set only for downloads.
	Location string
	// Written bytes of the downloaded file, including the resume data.
	Written int64
}

// Progress of the request, the counters are safe for concurrent use.
// The total is -1 if it is not known.
type Progress struct {
	completed atomic.Int64
	total     atomic.Int64
}

// NewProgress creates progress with unknown total.
func NewProgress() *Progress {
	p := &Progress{}
	p.total.Store(-1)
	return p
}

// Get returns snapshot of the counters.
func (p *Progress) Get() (completed, total int64) {
	if p == nil {
		return 0, -1
	}
	return p.completed.Load(), p.total.Load()
}

// Add increments the completed counter.
func (p *Progress) Add(n int64) {
	if p != nil {
		p.completed.Add(n)
	}
}

// Reset sets the completed counter to zero, for example, when a request body is rewound before a retry.
func (p *Progress) Reset() {
	if p != nil {
		p.completed.Store(0)
	}
}

// SetTotal sets the expected total.
func (p *Progress) SetTotal(total int64) {
	if p != nil {
		p.total.Store(total)
	}
}

// Fraction returns completed/total in the interval [0, 1], or -1 if the total is not known.
func (p *Progress) Fraction() float64 {
	completed, total := p.Get()
	switch {
	case total < 0:
		return -1
	case total == 0:
		return 1
	default:
		return min(float64(completed)/float64(total), 1)
	}
}
