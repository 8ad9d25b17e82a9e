package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"howett.net/plist"

	"github.com/keboola/go-envelope-client/pkg/client/counter"
	"github.com/keboola/go-envelope-client/pkg/client/decode"
	"github.com/keboola/go-envelope-client/pkg/client/trace"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// handleResponseBody reads the response body and decodes it to a generic structural value.
// Non-structural bodies are not an error, the RawResponse.HasBody is false in that case.
func handleResponseBody(res *http.Response, progress *request.Progress, tc *trace.ClientTrace) (out request.RawResponse, err error) {
	out = request.RawResponse{StatusCode: res.StatusCode, Header: res.Header}
	if tc != nil && tc.BodyParseStart != nil {
		tc.BodyParseStart(res)
	}

	body := counter.NewReadCloser(res.Body, nil)
	defer func() {
		if tc != nil && tc.BodyParseDone != nil {
			tc.BodyParseDone(res, body.Bytes(), err)
		}
	}()
	defer body.Close()

	if res.StatusCode == http.StatusNoContent || res.Request != nil && res.Request.Method == http.MethodHead {
		return out, nil
	}

	if progress != nil {
		progress.SetTotal(res.ContentLength)
		body.WithOnRead(progress.Add)
	}

	decoded, err := decode.Decode(body, res.Header.Get("Content-Encoding"))
	if err != nil {
		return out, err
	}

	out.Bytes, err = io.ReadAll(decoded)
	if err != nil {
		return out, fmt.Errorf("cannot read response body: %w", err)
	}

	out.Body, out.HasBody = decodeStructure(res.Header.Get("Content-Type"), out.Bytes)
	return out, nil
}

// decodeStructure decodes a JSON or property list body.
// If the content type is unknown, JSON is tried first, then XML property list.
func decodeStructure(contentType string, data []byte) (any, bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}

	switch {
	case isJSONContentType(contentType):
		return decodeJSON(data)
	case isPlistContentType(contentType):
		return decodePlist(data)
	default:
		if value, ok := decodeJSON(data); ok {
			return value, true
		}
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("<?xml")) {
			return decodePlist(data)
		}
		return nil, false
	}
}

func decodeJSON(data []byte) (any, bool) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

func decodePlist(data []byte) (any, bool) {
	var value any
	if _, err := plist.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

// handleDownload writes the response body to the destination.
// A response with a non-success status code is processed as a regular response, so the error envelope can be parsed.
func handleDownload(ctx context.Context, res *http.Response, download request.Download, defaultDst request.Destination, progress *request.Progress, tc *trace.ClientTrace) (out request.RawResponse, err error) {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return handleResponseBody(res, progress, tc)
	}

	out = request.RawResponse{StatusCode: res.StatusCode, Header: res.Header}
	if tc != nil && tc.BodyParseStart != nil {
		tc.BodyParseStart(res)
	}

	body := counter.NewReadCloser(res.Body, nil)
	defer func() {
		if tc != nil && tc.BodyParseDone != nil {
			tc.BodyParseDone(res, body.Bytes(), err)
		}
	}()
	defer body.Close()

	// Resume data is used only if the server has accepted the range
	var resumeData []byte
	if res.StatusCode == http.StatusPartialContent {
		resumeData = download.ResumeData
	}

	if progress != nil {
		total := int64(-1)
		if res.ContentLength >= 0 {
			total = int64(len(resumeData)) + res.ContentLength
		}
		progress.SetTotal(total)
		progress.Add(int64(len(resumeData)))
		body.WithOnRead(progress.Add)
	}

	dst := download.Destination
	if dst == nil {
		dst = defaultDst
	}
	writer, location, err := dst.Create(ctx, res)
	if err != nil {
		return out, fmt.Errorf("cannot create download destination: %w", err)
	}

	written, err := writeDownload(writer, resumeData, res.Header.Get("Content-Encoding"), body)
	out.Location = location
	out.Written = written
	return out, err
}

func writeDownload(writer io.WriteCloser, resumeData []byte, contentEncoding string, body io.ReadCloser) (written int64, err error) {
	defer func() {
		if closeErr := writer.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("cannot close download destination: %w", closeErr)
		}
	}()

	if len(resumeData) > 0 {
		n, err := writer.Write(resumeData)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("cannot write resume data: %w", err)
		}
	}

	decoded, err := decode.Decode(body, contentEncoding)
	if err != nil {
		return written, err
	}

	n, err := io.Copy(writer, decoded)
	written += n
	if err != nil {
		return written, fmt.Errorf("cannot write download: %w", err)
	}
	return written, nil
}

// rangeHeader returns the Range header value to resume a download.
func rangeHeader(resumeData []byte) string {
	return "bytes=" + strconv.Itoa(len(resumeData)) + "-"
}
