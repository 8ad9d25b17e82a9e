package dispatch

import (
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// DownloadedFile is the payload of a successful download result.
type DownloadedFile struct {
	// Location of the file, for example a path or a blob key.
	Location string
	// Written bytes, including the resume data.
	Written int64
}

// ParseResponse classifies the outcome of an operation by the schema.
//
// A finished download has no envelope, its payload is the DownloadedFile.
// A download rejected by the server has no location, its body is parsed as any other response.
func ParseResponse(response request.RawResponse, err error, schema envelope.Schema) envelope.Result {
	if err == nil && response.Location != "" {
		return envelope.Result{
			Code:    schema.SuccessCode,
			Payload: DownloadedFile{Location: response.Location, Written: response.Written},
		}
	}
	return envelope.Parse(envelope.Raw{Body: response.Body, HasBody: response.HasBody, Err: err}, schema)
}
