// Package envelope parses uniform API responses: an object with a status code, a message and a payload.
//
// Parse function is pure, it performs no I/O.
// Each outcome is classified as success, transport failure, parse failure or business failure.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Sentinel codes of synthesized results, they never collide with server codes in practice.
const (
	CodeTransportFailed = -32767
	CodeFormInvalid     = -32766
	CodeCodeNotFound    = -32765
	CodePayloadNotFound = -32764
)

// Schema defines names of the envelope fields and the code value that means success.
type Schema struct {
	CodeField    string
	MessageField string
	PayloadField string
	SuccessCode  int
}

// DefaultSchema returns schema of the {"code": 0, "msg": "", "result": ...} envelope.
func DefaultSchema() Schema {
	return Schema{CodeField: "code", MessageField: "msg", PayloadField: "result", SuccessCode: 0}
}

// WithDefaults fills empty field names by the DefaultSchema values.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	if s.CodeField == "" {
		s.CodeField = d.CodeField
	}
	if s.MessageField == "" {
		s.MessageField = d.MessageField
	}
	if s.PayloadField == "" {
		s.PayloadField = d.PayloadField
	}
	return s
}

func (s Schema) String() string {
	return fmt.Sprintf("code=%s msg=%s payload=%s success=%d", s.CodeField, s.MessageField, s.PayloadField, s.SuccessCode)
}

// Raw is the input of the parser, an outcome of a completed request.
type Raw struct {
	// Body is the structurally decoded response body, for example map[string]any.
	Body any
	// HasBody is false if no response body has been received.
	HasBody bool
	// Err is the transport error, if any. Other fields are ignored if it is set.
	Err error
}

// Result is a classified outcome of one response.
// Payload is set if and only if Err is nil.
type Result struct {
	// Code is the server code or a sentinel code of the synthesized failure.
	Code    int
	Message string
	Payload any
	Err     error
}

// OK returns true if the result is successful.
func (r Result) OK() bool {
	return r.Err == nil
}

// Parse classifies the raw response according to the schema.
// Empty field names of the schema are replaced by the DefaultSchema values.
func Parse(raw Raw, schema Schema) Result {
	schema = schema.WithDefaults()

	// Transport failure, no field is read
	if raw.Err != nil {
		var transportErr *TransportError
		if !errors.As(raw.Err, &transportErr) {
			transportErr = &TransportError{Cause: raw.Err}
		}
		return Result{Code: CodeTransportFailed, Err: transportErr}
	}

	// Body must be an object
	if !raw.HasBody || raw.Body == nil {
		return parseFailed(ReasonFormInvalid, "")
	}
	object, ok := toObject(raw.Body)
	if !ok {
		return parseFailed(ReasonFormInvalid, "")
	}

	// Code
	code, ok := toCode(object[schema.CodeField])
	if !ok {
		return parseFailed(ReasonCodeNotFound, schema.CodeField)
	}

	// Message is optional
	message := toMessage(object[schema.MessageField])

	// Business failure
	if code != schema.SuccessCode {
		return Result{Code: code, Message: message, Err: &BusinessError{Code: code, Message: message}}
	}

	// Payload
	payload, found := object[schema.PayloadField]
	if !found {
		return parseFailed(ReasonPayloadNotFound, schema.PayloadField)
	}

	return Result{Code: code, Message: message, Payload: payload}
}

// Failed converts an error to a failed result.
// A classified error keeps its kind, any other error is considered a transport failure.
func Failed(err error) Result {
	var parseErr *ParseError
	var businessErr *BusinessError
	switch {
	case errors.As(err, &businessErr):
		return Result{Code: businessErr.Code, Message: businessErr.Message, Err: businessErr}
	case errors.As(err, &parseErr):
		return Result{Code: parseErr.Reason.Code(), Err: parseErr}
	default:
		return Parse(Raw{Err: err}, Schema{})
	}
}

func parseFailed(reason ParseReason, field string) Result {
	return Result{Code: reason.Code(), Err: &ParseError{Reason: reason, Field: field}}
}

func toObject(body any) (map[string]any, bool) {
	switch v := body.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			str, ok := key.(string)
			if !ok {
				return nil, false
			}
			out[str] = value
		}
		return out, true
	default:
		return nil, false
	}
}

func toCode(value any) (int, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
	case string:
		code, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return checkCode(code, err)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case float32:
		return toCode(float64(v))
	case uint:
		return toCode(uint64(v))
	case uint64:
		if v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case interface{ Int64() (int64, error) }: // json.Number
		return checkCode(v.Int64())
	default:
		return checkCode(cast.ToInt64E(v))
	}
}

// checkCode accepts codes in the int32 range only.
func checkCode(code int64, err error) (int, bool) {
	if err != nil || code > math.MaxInt32 || code < math.MinInt32 {
		return 0, false
	}
	return int(code), true
}

// toMessage returns the message, a value of any other type than string is ignored.
func toMessage(value any) string {
	str, _ := value.(string)
	return str
}
