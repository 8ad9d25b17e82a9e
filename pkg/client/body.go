package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"howett.net/plist"

	"github.com/keboola/go-envelope-client/pkg/request"
)

// requestBody describes an encoded request body.
type requestBody struct {
	// factory opens the body, it is nil if there is no body.
	factory func() (io.ReadCloser, error)
	// rewindable is true if the factory can be called repeatedly, for redirects and retries.
	rewindable  bool
	contentType string
	// length is -1 if it is not known.
	length int64
}

func (b requestBody) open() (io.ReadCloser, error) {
	if b.factory == nil {
		return nil, nil
	}
	return b.factory()
}

func bytesBody(data []byte, contentType string) requestBody {
	return requestBody{
		factory: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		rewindable:  true,
		contentType: contentType,
		length:      int64(len(data)),
	}
}

// encodeQuery adds bodies to the URL query, existing query parameters are kept.
func encodeQuery(u *url.URL, bodies map[string]any) {
	if len(bodies) == 0 {
		return
	}
	query := u.Query()
	for k, v := range request.ToFormBody(bodies) {
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()
}

// encodePlain encodes bodies of a plain request or download according to the encoding.
func encodePlain(def request.Definition, u *url.URL) (requestBody, error) {
	bodies := def.Bodies()
	switch def.Encoding() {
	case request.EncodingURL:
		if def.Method().HasQueryBodies() {
			encodeQuery(u, bodies)
			return requestBody{length: 0}, nil
		}
		if len(bodies) == 0 {
			return requestBody{length: 0}, nil
		}
		form := make(url.Values)
		for k, v := range request.ToFormBody(bodies) {
			form.Set(k, v)
		}
		return bytesBody([]byte(form.Encode()), request.EncodingURL.ContentType()), nil
	case request.EncodingJSON:
		if len(bodies) == 0 {
			return requestBody{length: 0}, nil
		}
		data, err := json.Marshal(bodies)
		if err != nil {
			return requestBody{}, fmt.Errorf("cannot encode JSON body: %w", err)
		}
		return bytesBody(data, request.EncodingJSON.ContentType()), nil
	case request.EncodingPlist:
		if len(bodies) == 0 {
			return requestBody{length: 0}, nil
		}
		data, err := plist.MarshalIndent(bodies, plist.XMLFormat, "\t")
		if err != nil {
			return requestBody{}, fmt.Errorf("cannot encode plist body: %w", err)
		}
		return bytesBody(data, request.EncodingPlist.ContentType()), nil
	default:
		panic(fmt.Errorf(`unexpected encoding "%s"`, def.Encoding()))
	}
}

// encodeUpload opens the upload source.
func encodeUpload(source request.UploadSource) (requestBody, error) {
	const contentType = "application/octet-stream"
	switch {
	case source.FilePath() != "":
		path := source.FilePath()
		stat, err := os.Stat(path)
		if err != nil {
			return requestBody{}, fmt.Errorf(`cannot open upload file: %w`, err)
		}
		return requestBody{
			factory: func() (io.ReadCloser, error) {
				return os.Open(path) //nolint:gosec
			},
			rewindable:  true,
			contentType: contentType,
			length:      stat.Size(),
		}, nil
	case source.Data() != nil:
		return bytesBody(source.Data(), contentType), nil
	case source.Stream() != nil:
		// A stream can be read only once
		stream := source.Stream()
		return requestBody{
			factory: func() (io.ReadCloser, error) {
				return io.NopCloser(stream), nil
			},
			contentType: contentType,
			length:      source.Length(),
		}, nil
	default:
		panic(fmt.Errorf("upload source is empty"))
	}
}

// encodeMultipart encodes parts to the multipart form data.
// The body is buffered if its size is known and it is not over the threshold, otherwise it is streamed.
// The threshold is limited by the client cache size.
func encodeMultipart(ctx context.Context, upload request.MultipartUpload, cacheSize int64) (requestBody, error) {
	threshold := upload.Threshold
	if threshold <= 0 || (cacheSize > 0 && cacheSize < threshold) {
		threshold = cacheSize
	}

	// Estimate size of the parts
	size := int64(0)
	for _, part := range upload.Parts {
		partSize, err := sourceSize(part.Source)
		if err != nil {
			return requestBody{}, err
		}
		if partSize < 0 {
			size = -1
			break
		}
		size += partSize
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	contentType := "multipart/form-data; boundary=" + boundary

	// Buffer small bodies in memory
	if size >= 0 && size <= threshold {
		var buf bytes.Buffer
		if err := writeMultipart(ctx, &buf, boundary, upload.Parts); err != nil {
			return requestBody{}, err
		}
		return bytesBody(buf.Bytes(), contentType), nil
	}

	// Stream large bodies
	return requestBody{
		factory: func() (io.ReadCloser, error) {
			pr, pw := io.Pipe()
			grp, grpCtx := errgroup.WithContext(ctx)
			grp.Go(func() error {
				err := writeMultipart(grpCtx, pw, boundary, upload.Parts)
				_ = pw.CloseWithError(err)
				return err
			})
			return &pipeBody{PipeReader: pr, group: grp}, nil
		},
		contentType: contentType,
		length:      -1,
	}, nil
}

func writeMultipart(ctx context.Context, w io.Writer, boundary string, parts []request.MultipartPart) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writePart(mw, part); err != nil {
			return fmt.Errorf(`cannot write multipart part "%s": %w`, part.Name, err)
		}
	}

	return mw.Close()
}

func writePart(mw *multipart.Writer, part request.MultipartPart) error {
	header := make(textproto.MIMEHeader)
	disposition := fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(part.Name))
	if part.Filename != "" {
		disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(part.Filename))
	}
	header.Set("Content-Disposition", disposition)
	if part.MimeType != "" {
		header.Set("Content-Type", part.MimeType)
	} else if part.Filename != "" {
		header.Set("Content-Type", "application/octet-stream")
	}

	w, err := mw.CreatePart(header)
	if err != nil {
		return err
	}

	body, err := encodeUpload(part.Source)
	if err != nil {
		return err
	}
	r, err := body.open()
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(w, r)
	return err
}

func sourceSize(source request.UploadSource) (int64, error) {
	switch {
	case source.FilePath() != "":
		stat, err := os.Stat(source.FilePath())
		if err != nil {
			return 0, fmt.Errorf(`cannot open upload file: %w`, err)
		}
		return stat.Size(), nil
	case source.Data() != nil:
		return int64(len(source.Data())), nil
	default:
		return source.Length(), nil
	}
}

// pipeBody is a streamed multipart body, Close waits for the writer goroutine.
type pipeBody struct {
	*io.PipeReader
	group *errgroup.Group
}

func (b *pipeBody) Close() error {
	_ = b.PipeReader.Close()
	if err := b.group.Wait(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"") //nolint:gochecknoglobals

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
