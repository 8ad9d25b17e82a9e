// Package counter provides readers counting transferred bytes, the counts feed the request progress.
package counter

import (
	"errors"
	"io"
)

// ReadCloser wraps an io.ReadCloser (request/response body) to count bytes read the reader.
// Optionally, OnRead and OnClose callbacks can be registered.
type ReadCloser struct {
	wrapped io.ReadCloser
	onRead  OnRead
	onClose OnClose
	bytes   int64
	readErr error
	closed  bool
}

// OnRead is called after each read with a non-zero number of bytes.
type OnRead func(n int64)

// OnClose is called once, when the reader is closed.
type OnClose func(bytes int64, err error)

func NewReadCloser(wrapped io.ReadCloser, onClose OnClose) *ReadCloser {
	return &ReadCloser{wrapped: wrapped, onClose: onClose}
}

// NewReader wraps an io.Reader, the Close method is a no-op for the wrapped reader.
func NewReader(wrapped io.Reader, onRead OnRead) *ReadCloser {
	return &ReadCloser{wrapped: io.NopCloser(wrapped), onRead: onRead}
}

// WithOnRead sets the OnRead callback.
func (w *ReadCloser) WithOnRead(fn OnRead) *ReadCloser {
	w.onRead = fn
	return w
}

func (w *ReadCloser) Bytes() int64 {
	return w.bytes
}

func (w *ReadCloser) Read(b []byte) (int, error) {
	n, err := w.wrapped.Read(b)
	w.bytes += int64(n)
	w.readErr = err
	if n > 0 && w.onRead != nil {
		w.onRead(int64(n))
	}
	return n, err
}

func (w *ReadCloser) Close() error {
	closeErr := w.wrapped.Close()
	if w.onClose != nil && !w.closed {
		// Prefer read error before close error for onClose callback, it is usually more useful
		var onCloseErr error
		if w.readErr != nil && !errors.Is(w.readErr, io.EOF) {
			onCloseErr = w.readErr
		} else if closeErr != nil {
			onCloseErr = closeErr
		}
		w.onClose(w.bytes, onCloseErr)
	}
	w.closed = true
	return closeErr
}
