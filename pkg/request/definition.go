package request

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Definition is an immutable description of an HTTP request.
// Each "With*" or "And*" method returns a modified copy, the original value is never changed.
type Definition interface {
	definitionReadOnly
	// WithGet is shortcut for WithMethod(MethodGet).WithURL(url)
	WithGet(url string) Definition
	// WithPost is shortcut for WithMethod(MethodPost).WithURL(url)
	WithPost(url string) Definition
	// WithPut is shortcut for WithMethod(MethodPut).WithURL(url)
	WithPut(url string) Definition
	// WithDelete is shortcut for WithMethod(MethodDelete).WithURL(url)
	WithDelete(url string) Definition
	// WithMethod method sets the HTTP method.
	WithMethod(method Method) Definition
	// WithBaseURL method sets the base URL, a relative URL is resolved against it.
	WithBaseURL(baseURL string) Definition
	// WithURL method sets the URL.
	WithURL(url string) Definition
	// AndHeader method sets a single header field and its value.
	AndHeader(header string, value string) Definition
	// WithHeaders method replaces all header fields.
	WithHeaders(headers map[string]string) Definition
	// AndBody method sets a single body parameter and its value.
	AndBody(key string, value any) Definition
	// WithBodies method replaces all body parameters.
	WithBodies(bodies map[string]any) Definition
	// WithEncoding method sets the bodies encoding.
	WithEncoding(encoding Encoding) Definition
	// WithTimeout method sets the request timeout.
	WithTimeout(timeout time.Duration) Definition
	// WithUpload method converts the request to an upload of the source.
	WithUpload(source UploadSource) Definition
	// WithMultipart method converts the request to a multipart form data upload.
	// The method is changed to POST, if it has not been set explicitly.
	WithMultipart(parts ...MultipartPart) Definition
	// WithMultipartThreshold method sets the memory threshold of the multipart upload.
	WithMultipartThreshold(threshold int64) Definition
	// WithDownload method converts the request to a download.
	WithDownload(download Download) Definition
}

type definitionReadOnly interface {
	fmt.Stringer
	// Method returns HTTP method, GET by default.
	Method() Method
	// URL method returns the absolute or relative HTTP URL.
	// It panics if the URL is not set or is not valid.
	URL() *url.URL
	// RawURL returns the URL as it was set, it never panics.
	RawURL() string
	// Header returns a copy of the request headers.
	Header() http.Header
	// Bodies returns a copy of the body parameters.
	Bodies() map[string]any
	// Encoding returns the bodies encoding.
	Encoding() Encoding
	// Timeout of the request, DefaultTimeout by default.
	Timeout() time.Duration
	// Kind of the request.
	Kind() Kind
	// Upload returns the upload source, valid only for the KindUpload.
	Upload() UploadSource
	// Multipart returns the multipart definition, valid only for the KindMultipartUpload.
	Multipart() MultipartUpload
	// Download returns the download definition, valid only for the KindDownload.
	Download() Download
	// CanonicalBodies returns the bodies sorted by key.
	CanonicalBodies() []KeyValue
	// CanonicalQuery returns the bodies encoded as a query string, sorted by key.
	CanonicalQuery() string
}

// KeyValue is a single body parameter.
type KeyValue struct {
	Key   string
	Value any
}

// New creates an immutable request definition with defaults: GET method, URL encoding and DefaultTimeout.
func New(url string) Definition {
	return definition{url: url, method: MethodGet, header: make(http.Header), timeout: DefaultTimeout}
}

// definition implements Definition interface.
type definition struct {
	kind      Kind
	method    Method
	methodSet bool
	baseURL   *url.URL
	url       string
	header    http.Header
	bodies    map[string]any
	encoding  Encoding
	timeout   time.Duration
	upload    UploadSource
	multipart *MultipartUpload
	download  *Download
}

func (r definition) Method() Method {
	return r.method
}

func (r definition) URL() *url.URL {
	if r.url == "" {
		panic(fmt.Errorf("request url is not set"))
	}

	out, err := url.Parse(r.url)
	if err != nil {
		panic(fmt.Errorf(`url "%s" is not valid: %w`, r.url, err))
	}

	if r.baseURL != nil && !out.IsAbs() {
		out.Path = strings.TrimLeft(out.Path, "/")
		out = r.baseURL.ResolveReference(out)
	}

	return out
}

func (r definition) RawURL() string {
	return r.url
}

func (r definition) Header() http.Header {
	return r.header.Clone()
}

func (r definition) Bodies() map[string]any {
	return maps.Clone(r.bodies)
}

func (r definition) Encoding() Encoding {
	return r.encoding
}

func (r definition) Timeout() time.Duration {
	return r.timeout
}

func (r definition) Kind() Kind {
	return r.kind
}

func (r definition) Upload() UploadSource {
	return r.upload
}

func (r definition) Multipart() MultipartUpload {
	if r.multipart == nil {
		return MultipartUpload{Threshold: DefaultMultipartThreshold}
	}
	return *r.multipart.clone()
}

func (r definition) Download() Download {
	if r.download == nil {
		return Download{}
	}
	return *r.download.clone()
}

func (r definition) WithGet(url string) Definition {
	return r.WithMethod(MethodGet).WithURL(url)
}

func (r definition) WithPost(url string) Definition {
	return r.WithMethod(MethodPost).WithURL(url)
}

func (r definition) WithPut(url string) Definition {
	return r.WithMethod(MethodPut).WithURL(url)
}

func (r definition) WithDelete(url string) Definition {
	return r.WithMethod(MethodDelete).WithURL(url)
}

func (r definition) WithMethod(method Method) Definition {
	if !method.IsValid() {
		panic(fmt.Errorf(`http method "%s" is not supported`, method))
	}
	r.method = method
	r.methodSet = true
	return r
}

func (r definition) WithURL(url string) Definition {
	r.url = url
	return r
}

func (r definition) WithBaseURL(baseURL string) Definition {
	if v, err := url.Parse(strings.TrimRight(baseURL, "/")); err == nil {
		// Normalize base URL, so r.baseURL.ResolveReference(...) will work
		v.Path = strings.TrimRight(v.Path, "/") + "/"
		r.baseURL = v
	} else {
		panic(fmt.Errorf(`base url "%s" is not valid: %w`, baseURL, err))
	}
	return r
}

func (r definition) AndHeader(header string, value string) Definition {
	r.header = r.header.Clone()
	r.header.Set(header, value)
	return r
}

func (r definition) WithHeaders(headers map[string]string) Definition {
	r.header = make(http.Header)
	for k, v := range headers {
		r.header.Set(k, v)
	}
	return r
}

func (r definition) AndBody(key string, value any) Definition {
	r.bodies = maps.Clone(r.bodies)
	if r.bodies == nil {
		r.bodies = make(map[string]any)
	}
	r.bodies[key] = value
	return r
}

func (r definition) WithBodies(bodies map[string]any) Definition {
	r.bodies = maps.Clone(bodies)
	return r
}

func (r definition) WithEncoding(encoding Encoding) Definition {
	r.encoding = encoding
	return r
}

func (r definition) WithTimeout(timeout time.Duration) Definition {
	if timeout <= 0 {
		panic(fmt.Errorf(`timeout must be positive, found "%s"`, timeout))
	}
	r.timeout = timeout
	return r
}

func (r definition) WithUpload(source UploadSource) Definition {
	r.kind = KindUpload
	r.upload = source
	r.multipart = nil
	r.download = nil
	return r
}

func (r definition) WithMultipart(parts ...MultipartPart) Definition {
	threshold := int64(DefaultMultipartThreshold)
	if r.multipart != nil {
		threshold = r.multipart.Threshold
	}
	r.kind = KindMultipartUpload
	r.multipart = MultipartUpload{Parts: parts, Threshold: threshold}.clone()
	r.upload = UploadSource{}
	r.download = nil
	if !r.methodSet {
		r.method = MethodPost
	}
	return r
}

func (r definition) WithMultipartThreshold(threshold int64) Definition {
	if r.multipart == nil {
		r.multipart = &MultipartUpload{}
	} else {
		r.multipart = r.multipart.clone()
	}
	r.multipart.Threshold = threshold
	return r
}

func (r definition) WithDownload(download Download) Definition {
	r.kind = KindDownload
	r.download = download.clone()
	r.upload = UploadSource{}
	r.multipart = nil
	return r
}

func (r definition) CanonicalBodies() []KeyValue {
	return canonicalBodies(r.bodies)
}

func (r definition) CanonicalQuery() string {
	return canonicalQuery(r.bodies)
}

// String returns a debug description of the request, headers and bodies are sorted.
func (r definition) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %s", r.kind, r.method, r.url))
	if r.baseURL != nil {
		b.WriteString(fmt.Sprintf(" (base %s)", r.baseURL))
	}
	b.WriteString(fmt.Sprintf(" encoding=%s timeout=%s", r.encoding, r.timeout))

	if len(r.header) > 0 {
		keys := make([]string, 0, len(r.header))
		for k := range r.header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nheaders:")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("\n  %s: %s", k, strings.Join(r.header[k], ", ")))
		}
	}

	if len(r.bodies) > 0 {
		b.WriteString("\nbodies:")
		for _, kv := range canonicalBodies(r.bodies) {
			b.WriteString(fmt.Sprintf("\n  %s: %s", kv.Key, castToString(kv.Value)))
		}
	}

	switch r.kind {
	case KindUpload:
		b.WriteString(fmt.Sprintf("\nupload: %s", r.upload))
	case KindMultipartUpload:
		for _, p := range r.multipart.Parts {
			b.WriteString(fmt.Sprintf("\npart: name=%s filename=%s mime=%s source=%s", p.Name, p.Filename, p.MimeType, p.Source))
		}
	case KindDownload:
		b.WriteString(fmt.Sprintf("\nresume: %d bytes", len(r.download.ResumeData)))
	case KindPlain:
	}

	return b.String()
}
