package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/keboola/go-utils/pkg/wildcards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-envelope-client/pkg/client"
	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/destination"
	. "github.com/keboola/go-envelope-client/pkg/dispatch"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/queue"
	"github.com/keboola/go-envelope-client/pkg/reachability"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// blockingSender blocks until the context is done.
func blockingSender(started chan<- struct{}) request.Sender {
	return request.SenderFunc(func(ctx context.Context, _ request.Definition, _ *request.Progress) (request.RawResponse, error) {
		close(started)
		<-ctx.Done()
		return request.RawResponse{}, ctx.Err()
	})
}

func TestDispatcher_Send_Success(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/shop", httpmock.NewStringResponder(200, `{"code":0,"msg":"","result":{"x":1}}`))

	d := New(c)
	op := d.Send(context.Background(), request.New("https://example.com/shop"))

	results := make(chan envelope.Result, 1)
	op.OnResult(envelope.DefaultSchema(), func(result envelope.Result) {
		results <- result
	})

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, map[string]any{"x": float64(1)}, result.Payload)
	<-op.Done()
	assert.Equal(t, StateCompleted, op.State())
}

func TestDispatcher_Send_BusinessAndParseFailure(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("POST", "https://example.com/login", httpmock.NewStringResponder(200, `{"code":7,"msg":"bad"}`))
	transport.RegisterResponder("GET", "https://example.com/empty", httpmock.NewStringResponder(200, `{}`))
	transport.RegisterResponder("GET", "https://example.com/html", httpmock.NewStringResponder(500, `<html></html>`))

	d := New(c)
	ctx := context.Background()

	result := d.Send(ctx, request.New("https://example.com/login").WithMethod(request.MethodPost)).Result(envelope.DefaultSchema())
	var businessErr *envelope.BusinessError
	require.ErrorAs(t, result.Err, &businessErr)
	assert.Equal(t, 7, businessErr.Code)
	assert.Equal(t, "bad", businessErr.Message)

	result = d.Send(ctx, request.New("https://example.com/empty")).Result(envelope.DefaultSchema())
	var parseErr *envelope.ParseError
	require.ErrorAs(t, result.Err, &parseErr)
	assert.Equal(t, envelope.ReasonCodeNotFound, parseErr.Reason)

	result = d.Send(ctx, request.New("https://example.com/html")).Result(envelope.DefaultSchema())
	require.ErrorAs(t, result.Err, &parseErr)
	assert.Equal(t, envelope.ReasonFormInvalid, parseErr.Reason)
}

func TestDispatcher_Send_TransportFailure(t *testing.T) {
	t.Parallel()

	c, _ := client.NewMockedClient()
	result := New(c).Send(context.Background(), request.New("https://example.com/missing")).Result(envelope.DefaultSchema())
	assert.True(t, envelope.IsTransport(result.Err))
	assert.Equal(t, envelope.CodeTransportFailed, result.Code)
	assert.Nil(t, result.Payload)
}

func TestDispatcher_Prepare_Idle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		calls.Add(1)
		return request.RawResponse{StatusCode: http.StatusOK, Body: map[string]any{"code": 0, "result": "ok"}, HasBody: true}, nil
	})

	op := New(sender).Prepare(context.Background(), request.New("https://example.com"))
	assert.Equal(t, StateIdle, op.State())

	// Cancel of an idle operation is a no-op
	op.Cancel()
	assert.Equal(t, StateIdle, op.State())
	assert.Equal(t, int64(0), calls.Load())

	// Resume twice sends the request once
	op.Resume().Resume()
	result := op.Result(envelope.DefaultSchema())
	require.NoError(t, result.Err)
	assert.Equal(t, "ok", result.Payload)
	op.Resume()
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, StateCompleted, op.State())

	// Cancel of a completed operation is a no-op
	op.Cancel()
	assert.Equal(t, StateCompleted, op.State())
}

func TestOperation_Cancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	op := New(blockingSender(started)).Send(context.Background(), request.New("https://example.com"))

	// Callbacks may still be running when Wait returns, so errors are collected by the channel
	callbackErrs := make(chan error, 2)
	op.OnComplete(func(_ request.RawResponse, err error) {
		callbackErrs <- err
	})

	<-started
	assert.Equal(t, StateRunning, op.State())
	op.Cancel()
	op.Cancel()
	assert.Equal(t, StateCancelled, op.State())

	_, err := op.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, envelope.IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, op.State())

	callbackErr := <-callbackErrs
	assert.True(t, envelope.IsTransport(callbackErr))
	assert.ErrorIs(t, callbackErr, context.Canceled)
	assert.Empty(t, callbackErrs)

	result := op.Result(envelope.DefaultSchema())
	assert.Equal(t, envelope.CodeTransportFailed, result.Code)
}

func TestOperation_Cancel_ResultDropped(t *testing.T) {
	t.Parallel()

	// The sender ignores the context and returns a response after the cancellation
	release := make(chan struct{})
	started := make(chan struct{})
	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		close(started)
		<-release
		return request.RawResponse{StatusCode: http.StatusOK, Body: map[string]any{"code": 0, "result": 1}, HasBody: true}, nil
	})

	op := New(sender).Send(context.Background(), request.New("https://example.com"))
	<-started
	op.Cancel()
	close(release)

	result := op.Result(envelope.DefaultSchema())
	assert.True(t, envelope.IsTransport(result.Err))
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, StateCancelled, op.State())
}

func TestOperation_ParentContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	op := New(blockingSender(started)).Send(ctx, request.New("https://example.com"))
	<-started
	cancel()

	_, err := op.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, op.State())
}

func TestOperation_Wait_ContextDone(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	op := New(blockingSender(started)).Send(context.Background(), request.New("https://example.com"))
	defer op.Cancel()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := op.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRunning, op.State())
}

func TestDispatcher_Unreachable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		calls.Add(1)
		return request.RawResponse{}, nil
	})

	// The checker blocks, so the result cannot be delivered before Send returns
	release := make(chan struct{})
	checker := reachability.CheckerFunc(func(context.Context, *url.URL) bool {
		<-release
		return false
	})

	d := New(sender, WithReachability(checker))
	op := d.Send(context.Background(), request.New("https://example.com"))

	results := make(chan envelope.Result, 1)
	op.OnResult(envelope.DefaultSchema(), func(result envelope.Result) {
		results <- result
	})
	assert.Equal(t, StateRunning, op.State())
	close(release)

	result := <-results
	assert.True(t, envelope.IsTransport(result.Err))
	assert.ErrorIs(t, result.Err, envelope.ErrNetworkUnavailable)
	assert.Equal(t, envelope.CodeTransportFailed, result.Code)
	<-op.Done()
	assert.Equal(t, StateCompleted, op.State())
	assert.Equal(t, int64(0), calls.Load())
}

func TestOperation_OnComplete_AfterCompletion(t *testing.T) {
	t.Parallel()

	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		return request.RawResponse{StatusCode: http.StatusOK}, nil
	})

	op := New(sender).Send(context.Background(), request.New("https://example.com"))
	_, err := op.Wait(context.Background())
	require.NoError(t, err)

	// The callback is delivered asynchronously, even with the inline queue
	release := make(chan struct{})
	statuses := make(chan int, 1)
	op.OnComplete(func(response request.RawResponse, _ error) {
		<-release
		statuses <- response.StatusCode
	})
	close(release)
	assert.Equal(t, http.StatusOK, <-statuses)
}

func TestDispatcher_CallbackQueue(t *testing.T) {
	t.Parallel()

	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		return request.RawResponse{StatusCode: http.StatusOK, Body: map[string]any{"code": "0", "result": true}, HasBody: true}, nil
	})

	serial := queue.NewSerial()
	var executed atomic.Int64
	executor := queue.ExecutorFunc(func(fn func()) {
		executed.Add(1)
		serial.Execute(fn)
	})

	d := New(sender, WithCallbackQueue(executor))
	results := make(chan envelope.Result, 2)
	op := d.Prepare(context.Background(), request.New("https://example.com"))
	op.OnResult(envelope.DefaultSchema(), func(r envelope.Result) { results <- r })
	op.OnResult(envelope.Schema{CodeField: "code", PayloadField: "missing"}, func(r envelope.Result) { results <- r })
	op.Resume()

	first, second := <-results, <-results
	serial.Close()
	require.NoError(t, first.Err)
	assert.Equal(t, true, first.Payload)
	assert.True(t, envelope.IsParse(second.Err))
	assert.Equal(t, int64(2), executed.Load())
}

// logWriter receives each log record as one write.
type logWriter chan string

func (w logWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestDispatcher_ClosedCallbackQueue(t *testing.T) {
	t.Parallel()

	logs := make(logWriter, 10)
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		return request.RawResponse{StatusCode: http.StatusOK}, nil
	})

	serial := queue.NewSerial()
	serial.Close()
	d := New(sender, WithLogger(logger), WithCallbackQueue(serial))

	// The callback is dropped, the operation is completed anyway
	op := d.Prepare(context.Background(), request.New("https://example.com"))
	op.OnComplete(func(request.RawResponse, error) {
		assert.Fail(t, "callback must not be called")
	})
	op.Resume()
	expected := "level=WARN msg=\"callback dropped\" error=\"callback queue is closed\"\n"
	assert.Equal(t, expected, <-logs)
	<-op.Done()
	assert.Equal(t, StateCompleted, op.State())

	// A late callback is dropped too, without a panic
	op.OnComplete(func(request.RawResponse, error) {
		assert.Fail(t, "callback must not be called")
	})
	assert.Equal(t, expected, <-logs)
}

func TestDispatcher_WithConfig_Timeout(t *testing.T) {
	t.Parallel()

	timeouts := make(chan time.Duration, 2)
	sender := request.SenderFunc(func(_ context.Context, def request.Definition, _ *request.Progress) (request.RawResponse, error) {
		timeouts <- def.Timeout()
		return request.RawResponse{}, nil
	})

	cfg := config.Default()
	cfg.RequestTimeout = 3 * time.Second
	d := New(sender, WithConfig(cfg))

	// Default timeout is replaced
	op := d.Send(context.Background(), request.New("https://example.com"))
	assert.Equal(t, 3*time.Second, op.Definition().Timeout())
	assert.Equal(t, 3*time.Second, <-timeouts)

	// Explicit timeout is kept
	d.Send(context.Background(), request.New("https://example.com").WithTimeout(time.Minute))
	assert.Equal(t, time.Minute, <-timeouts)
}

func TestDispatcher_Logger(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == "duration" {
				return slog.Attr{}
			}
			return a
		},
	}))

	sender := request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		return request.RawResponse{StatusCode: http.StatusNotFound}, errors.New("some error")
	})

	cfg := config.Default()
	cfg.Debug = true
	_, _ = New(sender, WithLogger(logger), WithConfig(cfg)).Send(context.Background(), request.New("https://example.com/foo")).Wait(context.Background())

	expected := `
level=DEBUG msg="request started" method=GET url=https://example.com/foo kind=plain definition=%s
level=DEBUG msg="request failed" method=GET url=https://example.com/foo kind=plain state=completed status=404 error="some error"
`
	wildcards.Assert(t, strings.TrimLeft(expected, "\n"), out.String())
}

func TestDispatcher_Upload_Progress(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("PUT", "https://example.com/avatar", httpmock.NewStringResponder(200, `{"code":0,"result":"uploaded"}`))

	def := request.New("https://example.com/avatar").
		WithMethod(request.MethodPut).
		WithUpload(request.UploadData([]byte("0123456789")))
	op := New(c).Send(context.Background(), def)
	result := op.Result(envelope.DefaultSchema())
	require.NoError(t, result.Err)
	assert.Equal(t, "uploaded", result.Payload)

	completed, total := op.Progress()
	assert.Equal(t, int64(10), completed)
	assert.Equal(t, int64(10), total)
}

func TestDispatcher_Download(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/image.png", httpmock.NewStringResponder(200, "image data"))

	dir := t.TempDir()
	def := request.New("https://example.com/image.png").WithDownload(request.Download{Destination: destination.Dir{Path: dir}})
	result := New(c).Send(context.Background(), def).Result(envelope.DefaultSchema())
	require.NoError(t, result.Err)

	file, ok := result.Payload.(DownloadedFile)
	require.True(t, ok)
	assert.Equal(t, int64(10), file.Written)
	assert.Equal(t, dir, filepath.Dir(file.Location))
	content, err := os.ReadFile(file.Location)
	require.NoError(t, err)
	assert.Equal(t, "image data", string(content))
}

func TestDispatcher_Prepare_Panics(t *testing.T) {
	t.Parallel()

	d := New(request.SenderFunc(func(context.Context, request.Definition, *request.Progress) (request.RawResponse, error) {
		return request.RawResponse{}, nil
	}))
	ctx := context.Background()

	assert.Panics(t, func() {
		d.Prepare(ctx, request.New(""))
	})
	assert.PanicsWithError(t, `upload request "https://example.com" has no source: set a file, data or stream`, func() {
		d.Prepare(ctx, request.New("https://example.com").WithUpload(request.UploadSource{}))
	})
	assert.PanicsWithError(t, `multipart request "https://example.com" has no part`, func() {
		d.Prepare(ctx, request.New("https://example.com").WithMultipart())
	})
	assert.PanicsWithError(t, `multipart request "https://example.com": part 1 "b" has no source`, func() {
		d.Prepare(ctx, request.New("https://example.com").WithMultipart(
			request.MultipartPart{Name: "a", Source: request.UploadData([]byte("a"))},
			request.MultipartPart{Name: "b"},
		))
	})
	assert.PanicsWithError(t, "sender cannot be nil", func() {
		New(nil)
	})
}
