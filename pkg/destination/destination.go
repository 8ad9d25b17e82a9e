// Package destination resolves where downloaded files are written to.
//
// Each implementation satisfies the request.Destination interface:
//   - Dir writes files to a local directory, under the suggested file name.
//   - Temp writes files to unique temporary files.
//   - Bucket writes files to a gocloud.dev blob bucket (local directory, memory, S3, GCS, Azure).
package destination

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	"github.com/keboola/go-envelope-client/pkg/request"
)

// DefaultDirName is name of the default downloads directory.
const DefaultDirName = "downloads"

// SuggestedFilename returns the file name from the Content-Disposition header.
// If it is not present, a unique name with extension derived from the Content-Type is generated.
func SuggestedFilename(res *http.Response) string {
	if v := res.Header.Get("Content-Disposition"); v != "" {
		if _, params, err := mime.ParseMediaType(v); err == nil {
			if name := sanitize(params["filename"]); name != "" {
				return name
			}
		}
	}

	name := uuid.NewString()
	if mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type")); err == nil {
		if _, subtype, found := strings.Cut(mediaType, "/"); found && subtype != "" {
			name += "." + subtype
		}
	}
	return name
}

func sanitize(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "/" || name == "." || name == ".." {
		return ""
	}
	return name
}

// Dir writes downloaded files to the directory, an existing file is overwritten.
type Dir struct {
	Path string
}

// DefaultDir returns the "downloads" directory in the user cache directory, or in the temp directory as a fallback.
func DefaultDir() Dir {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return Dir{Path: filepath.Join(base, DefaultDirName)}
}

func (d Dir) Create(_ context.Context, res *http.Response) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(d.Path, 0o750); err != nil {
		return nil, "", fmt.Errorf(`cannot create directory "%s": %w`, d.Path, err)
	}
	location := filepath.Join(d.Path, SuggestedFilename(res))
	file, err := os.OpenFile(location, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640) //nolint:gosec
	if err != nil {
		return nil, "", err
	}
	return file, location, nil
}

// Temp writes each downloaded file to a new temporary file in the directory.
// The system temp directory is used if the Dir is empty.
type Temp struct {
	Dir string
}

func (t Temp) Create(_ context.Context, res *http.Response) (io.WriteCloser, string, error) {
	pattern := "download-*"
	if ext := path.Ext(SuggestedFilename(res)); ext != "" {
		pattern += ext
	}
	file, err := os.CreateTemp(t.Dir, pattern)
	if err != nil {
		return nil, "", err
	}
	return file, file.Name(), nil
}

// Bucket writes downloaded files to the blob bucket, under the prefix.
// BufferSize of the blob writer is optional, zero means the driver default.
type Bucket struct {
	Bucket     *blob.Bucket
	Prefix     string
	BufferSize int
}

func (b Bucket) Create(ctx context.Context, res *http.Response) (io.WriteCloser, string, error) {
	key := path.Join(b.Prefix, SuggestedFilename(res))
	opts := &blob.WriterOptions{ContentType: res.Header.Get("Content-Type"), BufferSize: b.BufferSize}
	writer, err := b.Bucket.NewWriter(ctx, key, opts)
	if err != nil {
		return nil, "", fmt.Errorf(`cannot open blob "%s": %w`, key, err)
	}
	return writer, key, nil
}

var (
	_ request.Destination = Dir{}
	_ request.Destination = Temp{}
	_ request.Destination = Bucket{}
)
