package otel

import "net/http"

// Values of the "http.response.class" attribute.
const (
	responseClassTransportError = "transport_error"
	responseClassSuccess        = "success"
	responseClassRedirect       = "redirect"
	responseClassClientError    = "client_error"
	responseClassServerError    = "server_error"
)

// responseClass groups the HTTP outcome for metrics, the status code alone has too high cardinality.
// A client or server error still carries a body, which may be a valid envelope.
func responseClass(r *http.Response, err error) string {
	switch {
	case err != nil || r == nil:
		return responseClassTransportError
	case r.StatusCode >= http.StatusInternalServerError:
		return responseClassServerError
	case r.StatusCode >= http.StatusBadRequest:
		return responseClassClientError
	case r.StatusCode >= http.StatusMultipleChoices:
		return responseClassRedirect
	default:
		return responseClassSuccess
	}
}
