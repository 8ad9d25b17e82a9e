// Package request provides immutable HTTP request descriptors, see the New function.
//
// A descriptor only describes a request: URL, method, headers, bodies, encoding and timeout.
// It never sends anything by itself. Descriptors are sent by the dispatch.Dispatcher,
// which hands them over to a Sender, the client.Client is a default implementation
// of the request.Sender interface based on the standard net/http package.
//
// Each descriptor is one of a closed set of variants, see Kind:
// a plain request, an upload (file, data or stream), a multipart upload or a download.
package request

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is used if no timeout is set by the WithTimeout method.
const DefaultTimeout = 10 * time.Second

// DefaultMultipartThreshold is the default memory threshold of the multipart encoding, in bytes.
// Larger bodies are streamed instead of buffered.
const DefaultMultipartThreshold = 10_000_000

// Method is an HTTP method.
type Method string

const (
	MethodGet     = Method(http.MethodGet)
	MethodPost    = Method(http.MethodPost)
	MethodPut     = Method(http.MethodPut)
	MethodDelete  = Method(http.MethodDelete)
	MethodHead    = Method(http.MethodHead)
	MethodOptions = Method(http.MethodOptions)
	MethodPatch   = Method(http.MethodPatch)
	MethodTrace   = Method(http.MethodTrace)
	MethodConnect = Method(http.MethodConnect)
)

// ParseMethod converts a method name to the Method, the name is case-insensitive.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(name)))
	if !m.IsValid() {
		return "", fmt.Errorf(`http method "%s" is not supported`, name)
	}
	return m, nil
}

// IsValid returns true if the method is one of the supported HTTP methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead, MethodOptions, MethodPatch, MethodTrace, MethodConnect:
		return true
	default:
		return false
	}
}

// HasQueryBodies returns true if URL encoded bodies are sent as query parameters, not as the request body.
func (m Method) HasQueryBodies() bool {
	return m == MethodGet || m == MethodHead || m == MethodDelete
}

func (m Method) String() string {
	return string(m)
}

// Encoding defines how are the request bodies encoded.
type Encoding int

const (
	// EncodingURL encodes bodies as query parameters (GET, HEAD, DELETE) or as a form body.
	EncodingURL Encoding = iota
	// EncodingJSON encodes bodies as a JSON object.
	EncodingJSON
	// EncodingPlist encodes bodies as an XML property list.
	EncodingPlist
)

func (e Encoding) String() string {
	switch e {
	case EncodingURL:
		return "url"
	case EncodingJSON:
		return "json"
	case EncodingPlist:
		return "plist"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ContentType returns Content-Type of the encoded request body.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingJSON:
		return "application/json"
	case EncodingPlist:
		return "application/x-plist"
	default:
		return "application/x-www-form-urlencoded"
	}
}

// Kind of the request, each kind is sent by a different transport call.
type Kind int

const (
	KindPlain Kind = iota
	KindUpload
	KindMultipartUpload
	KindDownload
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindUpload:
		return "upload"
	case KindMultipartUpload:
		return "multipart-upload"
	case KindDownload:
		return "download"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
