package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// UploadSource is a payload of an upload request.
// Exactly one of the file path, data or stream must be set, see UploadFile, UploadData and UploadStream.
type UploadSource struct {
	filePath string
	data     []byte
	stream   io.Reader
	length   int64
}

// UploadFile creates the upload source from a local file.
func UploadFile(path string) UploadSource {
	return UploadSource{filePath: path, length: -1}
}

// UploadData creates the upload source from bytes.
func UploadData(data []byte) UploadSource {
	return UploadSource{data: data, length: int64(len(data))}
}

// UploadStream creates the upload source from a stream.
// The length is optional, use -1 if it is not known.
func UploadStream(stream io.Reader, length int64) UploadSource {
	return UploadSource{stream: stream, length: length}
}

// FilePath returns the local file path, if any.
func (s UploadSource) FilePath() string {
	return s.filePath
}

// Data returns the payload bytes, if any.
func (s UploadSource) Data() []byte {
	return s.data
}

// Stream returns the payload stream, if any.
func (s UploadSource) Stream() io.Reader {
	return s.stream
}

// Length returns the payload length or -1 if it is not known.
func (s UploadSource) Length() int64 {
	return s.length
}

// IsEmpty returns true if no payload is defined.
func (s UploadSource) IsEmpty() bool {
	return s.filePath == "" && s.data == nil && s.stream == nil
}

func (s UploadSource) String() string {
	switch {
	case s.filePath != "":
		return fmt.Sprintf("file(%s)", s.filePath)
	case s.data != nil:
		return fmt.Sprintf("data(%d bytes)", len(s.data))
	case s.stream != nil:
		return fmt.Sprintf("stream(%d bytes)", s.length)
	default:
		return "empty"
	}
}

// MultipartPart is one part of the multipart form data.
type MultipartPart struct {
	Name     string
	Filename string
	MimeType string
	Source   UploadSource
}

// MultipartUpload defines a multipart form data upload.
type MultipartUpload struct {
	Parts []MultipartPart
	// Threshold is the maximum size of the body buffered in memory, larger bodies are streamed.
	Threshold int64
}

// Destination resolves where a downloaded file is written to.
// See the destination package for implementations.
type Destination interface {
	// Create opens a writer for the downloaded body.
	// The returned location identifies the written file, for example a path or a blob URL.
	Create(ctx context.Context, response *http.Response) (writer io.WriteCloser, location string, err error)
}

// Download defines a download request.
type Download struct {
	// ResumeData contains bytes already downloaded by a previous, interrupted, request.
	// Download continues from the end of the data.
	ResumeData []byte
	// Destination of the downloaded file. The Sender uses a temporary file, if it is nil.
	Destination Destination
}

func (u MultipartUpload) clone() *MultipartUpload {
	out := &MultipartUpload{Threshold: u.Threshold, Parts: make([]MultipartPart, len(u.Parts))}
	copy(out.Parts, u.Parts)
	return out
}

func (d Download) clone() *Download {
	out := &Download{Destination: d.Destination}
	if d.ResumeData != nil {
		out.ResumeData = make([]byte, len(d.ResumeData))
		copy(out.ResumeData, d.ResumeData)
	}
	return out
}
