// Package shopapi contains request definitions for the micro shop API.
// The definitions are not complete and can be extended as needed.
//
// Each API method is addressed by "{host}/{module}/{version}/{class}/{method}".
// Each request is signed, the "Data-Signature" header is computed from the secret token,
// the API path and the canonical query of the request bodies, see DataSignature.
//
// Requests are sent by the dispatch.Dispatcher, see the New function.
package shopapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/keboola/go-envelope-client/pkg/dispatch"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

const (
	DefaultVersion = "v1"
	// GuestMemberID is sent in the Member-Id header if no member is logged in.
	GuestMemberID = "0"
)

// ClientInfo identifies the calling application, it is sent in the Client-* headers.
type ClientInfo struct {
	IDCard        string
	System        string
	AppVersion    string
	DeviceModel   string
	SystemVersion string
}

// Member is the logged-in member, it is sent in the Member-* headers.
type Member struct {
	ID        string
	Signature string
	ShopID    string
}

type apiConfig struct {
	token     string
	version   string
	uploadURL string
	client    ClientInfo
	member    Member
	schema    envelope.Schema
}

type Option func(c *apiConfig)

// WithToken sets the secret token used to sign requests.
func WithToken(token string) Option {
	return func(c *apiConfig) {
		c.token = token
	}
}

// WithVersion sets the API version, DefaultVersion is used by default.
func WithVersion(version string) Option {
	return func(c *apiConfig) {
		c.version = version
	}
}

// WithUploadURL sets the URL of the upload endpoints.
func WithUploadURL(url string) Option {
	return func(c *apiConfig) {
		c.uploadURL = url
	}
}

// WithClientInfo sets the Client-* headers.
func WithClientInfo(info ClientInfo) Option {
	return func(c *apiConfig) {
		c.client = info
	}
}

// WithMember sets the Member-* headers, a guest is used by default.
func WithMember(member Member) Option {
	return func(c *apiConfig) {
		c.member = member
	}
}

// WithSchema sets the envelope schema of the API responses, envelope.DefaultSchema is used by default.
func WithSchema(schema envelope.Schema) Option {
	return func(c *apiConfig) {
		c.schema = schema.WithDefaults()
	}
}

// API creates and sends the micro shop API requests.
type API struct {
	dispatcher *dispatch.Dispatcher
	host       string
	config     apiConfig
}

// New creates the API for the host, requests are sent by the dispatcher.
func New(host string, d *dispatch.Dispatcher, opts ...Option) *API {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	cfg := apiConfig{version: DefaultVersion, member: Member{ID: GuestMemberID}, schema: envelope.DefaultSchema()}
	for _, o := range opts {
		o(&cfg)
	}
	return &API{dispatcher: d, host: strings.TrimRight(host, "/"), config: cfg}
}

// WithMember returns a copy of the API with the logged-in member.
func (a *API) WithMember(member Member) *API {
	clone := *a
	clone.config.member = member
	return &clone
}

// Schema returns the envelope schema of the API responses.
func (a *API) Schema() envelope.Schema {
	return a.config.schema
}

// Dispatcher returns the dispatcher used to send requests.
func (a *API) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// newRequest creates a signed request of the API method.
func (a *API) newRequest(e Endpoint, method request.Method, bodies map[string]any) request.Definition {
	def := request.New(a.URL(e)).WithMethod(method).WithBodies(bodies)
	return a.sign(def, e.Path(a.config.version))
}

// sign sets the identity headers and the Data-Signature header.
func (a *API) sign(def request.Definition, path string) request.Definition {
	c := a.config
	headers := map[string]string{
		"Client-Idcard":         c.client.IDCard,
		"Client-System":         c.client.System,
		"Client-App-Version":    c.client.AppVersion,
		"Client-Device-Model":   c.client.DeviceModel,
		"Client-System-Version": c.client.SystemVersion,
		"Member-Id":             c.member.ID,
		"Member-Signature":      c.member.Signature,
		"Belong-To-Shop-Id":     c.member.ShopID,
	}
	for k, v := range headers {
		if v != "" || k == "Member-Signature" {
			def = def.AndHeader(k, v)
		}
	}
	return def.AndHeader("Data-Signature", DataSignature(c.token, path, def.CanonicalQuery()))
}

// URL returns the absolute URL of the API method.
func (a *API) URL(e Endpoint) string {
	return fmt.Sprintf("%s/%s/%s", a.host, e.Module, e.Path(a.config.version))
}

// send sends the definition and decodes the payload to the T type.
func send[T any](ctx context.Context, a *API, def request.Definition) (T, error) {
	result := a.dispatcher.Send(ctx, def).Result(a.config.schema)
	return envelope.PayloadAs[T](result)
}
