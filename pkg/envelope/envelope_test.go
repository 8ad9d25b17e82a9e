package envelope_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-envelope-client/pkg/envelope"
)

func object(s string) envelope.Raw {
	var body any
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		panic(err)
	}
	return envelope.Raw{Body: body, HasBody: true}
}

func TestParse_Success(t *testing.T) {
	t.Parallel()
	r := envelope.Parse(object(`{"code":0,"msg":"","result":{"x":1}}`), envelope.DefaultSchema())
	require.NoError(t, r.Err)
	assert.True(t, r.OK())
	assert.Equal(t, 0, r.Code)
	assert.Equal(t, "", r.Message)
	assert.Equal(t, map[string]any{"x": float64(1)}, r.Payload)
}

func TestParse_BusinessFailure(t *testing.T) {
	t.Parallel()
	r := envelope.Parse(object(`{"code":7,"msg":"bad"}`), envelope.DefaultSchema())
	assert.False(t, r.OK())
	assert.Equal(t, 7, r.Code)
	assert.Equal(t, "bad", r.Message)
	assert.Nil(t, r.Payload)

	var businessErr *envelope.BusinessError
	require.ErrorAs(t, r.Err, &businessErr)
	assert.Equal(t, 7, businessErr.Code)
	assert.Equal(t, "bad", businessErr.Message)
	assert.Equal(t, "server returned code 7: bad", r.Err.Error())
	assert.True(t, envelope.IsBusiness(r.Err))
	assert.False(t, envelope.IsParse(r.Err))
	assert.False(t, envelope.IsTransport(r.Err))
}

func TestParse_EmptyObject(t *testing.T) {
	t.Parallel()
	r := envelope.Parse(object(`{}`), envelope.DefaultSchema())
	assert.Equal(t, envelope.CodeCodeNotFound, r.Code)

	var parseErr *envelope.ParseError
	require.ErrorAs(t, r.Err, &parseErr)
	assert.Equal(t, envelope.ReasonCodeNotFound, parseErr.Reason)
	assert.Equal(t, `cannot parse response: code field not found: "code"`, r.Err.Error())
	assert.False(t, envelope.IsBusiness(r.Err))
}

func TestParse_Cases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     envelope.Raw
		schema  envelope.Schema
		code    int
		message string
		payload any
		reason  *envelope.ParseReason
		kind    string
	}{
		{
			name:    "numeric string code",
			raw:     object(`{"code":" 0 ","msg":"ok","result":[1,2]}`),
			schema:  envelope.DefaultSchema(),
			code:    0,
			message: "ok",
			payload: []any{float64(1), float64(2)},
		},
		{
			name:    "null payload is present",
			raw:     object(`{"code":0,"result":null}`),
			schema:  envelope.DefaultSchema(),
			code:    0,
			payload: nil,
		},
		{
			name:    "custom schema",
			raw:     object(`{"status":"200","error":"","data":"value"}`),
			schema:  envelope.Schema{CodeField: "status", MessageField: "error", PayloadField: "data", SuccessCode: 200},
			code:    200,
			payload: "value",
		},
		{
			name:    "custom schema business failure",
			raw:     object(`{"status":0,"error":"nope"}`),
			schema:  envelope.Schema{CodeField: "status", MessageField: "error", PayloadField: "data", SuccessCode: 200},
			code:    0,
			message: "nope",
			kind:    "business",
		},
		{
			name:   "missing payload",
			raw:    object(`{"code":0,"msg":"ok"}`),
			schema: envelope.DefaultSchema(),
			code:   envelope.CodePayloadNotFound,
			reason: ptr(envelope.ReasonPayloadNotFound),
			kind:   "parse",
		},
		{
			name:   "non-numeric string code",
			raw:    object(`{"code":"abc","result":1}`),
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeCodeNotFound,
			reason: ptr(envelope.ReasonCodeNotFound),
			kind:   "parse",
		},
		{
			name:   "fractional code",
			raw:    object(`{"code":1.5,"result":1}`),
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeCodeNotFound,
			reason: ptr(envelope.ReasonCodeNotFound),
			kind:   "parse",
		},
		{
			name:   "body is array",
			raw:    object(`[1,2,3]`),
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeFormInvalid,
			reason: ptr(envelope.ReasonFormInvalid),
			kind:   "parse",
		},
		{
			name:   "no body",
			raw:    envelope.Raw{},
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeFormInvalid,
			reason: ptr(envelope.ReasonFormInvalid),
			kind:   "parse",
		},
		{
			name:    "go int code",
			raw:     envelope.Raw{Body: map[string]any{"code": int64(0), "result": "x"}, HasBody: true},
			schema:  envelope.DefaultSchema(),
			code:    0,
			payload: "x",
		},
		{
			name:    "json number code",
			raw:     envelope.Raw{Body: map[string]any{"code": json.Number("3"), "msg": "m"}, HasBody: true},
			schema:  envelope.DefaultSchema(),
			code:    3,
			message: "m",
			kind:    "business",
		},
		{
			name:    "plist dictionary",
			raw:     envelope.Raw{Body: map[any]any{"code": uint64(0), "result": "p"}, HasBody: true},
			schema:  envelope.DefaultSchema(),
			code:    0,
			payload: "p",
		},
		{
			name:    "non-string message is ignored",
			raw:     object(`{"code":0,"msg":5,"result":"x"}`),
			schema:  envelope.DefaultSchema(),
			code:    0,
			payload: "x",
		},
		{
			name:   "int64 code out of range",
			raw:    envelope.Raw{Body: map[string]any{"code": int64(math.MaxInt32) + 1, "result": "x"}, HasBody: true},
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeCodeNotFound,
			reason: ptr(envelope.ReasonCodeNotFound),
			kind:   "parse",
		},
		{
			name:   "uint64 code out of range",
			raw:    envelope.Raw{Body: map[any]any{"code": uint64(math.MaxUint64), "result": "x"}, HasBody: true},
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeCodeNotFound,
			reason: ptr(envelope.ReasonCodeNotFound),
			kind:   "parse",
		},
		{
			name:   "string code out of range",
			raw:    object(`{"code":"4294967296","result":"x"}`),
			schema: envelope.DefaultSchema(),
			code:   envelope.CodeCodeNotFound,
			reason: ptr(envelope.ReasonCodeNotFound),
			kind:   "parse",
		},
		{
			name:    "int64 code in range",
			raw:     envelope.Raw{Body: map[string]any{"code": int64(math.MinInt32), "msg": "min"}, HasBody: true},
			schema:  envelope.DefaultSchema(),
			code:    math.MinInt32,
			message: "min",
			kind:    "business",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := envelope.Parse(tc.raw, tc.schema)
			assert.Equal(t, tc.code, r.Code)
			assert.Equal(t, tc.message, r.Message)
			switch tc.kind {
			case "":
				require.NoError(t, r.Err)
				assert.Equal(t, tc.payload, r.Payload)
			case "business":
				assert.True(t, envelope.IsBusiness(r.Err))
				assert.Nil(t, r.Payload)
			case "parse":
				var parseErr *envelope.ParseError
				require.ErrorAs(t, r.Err, &parseErr)
				assert.Equal(t, *tc.reason, parseErr.Reason)
				assert.Nil(t, r.Payload)
			}
			// Business and parse failures are mutually exclusive
			assert.False(t, envelope.IsBusiness(r.Err) && envelope.IsParse(r.Err))
		})
	}
}

func TestParse_TransportFailure(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")

	// Fields are not read, even if the body is set
	r := envelope.Parse(envelope.Raw{Body: map[string]any{"code": 0, "result": 1}, HasBody: true, Err: cause}, envelope.DefaultSchema())
	assert.Equal(t, envelope.CodeTransportFailed, r.Code)
	assert.Nil(t, r.Payload)
	assert.True(t, envelope.IsTransport(r.Err))
	require.ErrorIs(t, r.Err, cause)
	assert.Equal(t, "transport failed: connection reset", r.Err.Error())

	// Already classified transport error is not wrapped twice
	r = envelope.Parse(envelope.Raw{Err: &envelope.TransportError{Cause: context.Canceled}}, envelope.DefaultSchema())
	var transportErr *envelope.TransportError
	require.ErrorAs(t, r.Err, &transportErr)
	assert.Equal(t, context.Canceled, transportErr.Cause)
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()
	raw := object(`{"code":0,"msg":"","result":{"x":1}}`)
	assert.Equal(t, envelope.Parse(raw, envelope.DefaultSchema()), envelope.Parse(raw, envelope.DefaultSchema()))
}

func TestParse_ZeroSchemaUsesDefaults(t *testing.T) {
	t.Parallel()
	raw := object(`{"code":0,"msg":"","result":{"x":1}}`)
	r := envelope.Parse(raw, envelope.Schema{})
	require.NoError(t, r.Err)
	assert.Equal(t, map[string]any{"x": float64(1)}, r.Payload)
	assert.Equal(t, envelope.Parse(raw, envelope.DefaultSchema()), r)

	// Only the empty field names are replaced
	r = envelope.Parse(object(`{"status":3,"msg":"denied"}`), envelope.Schema{CodeField: "status"})
	assert.Equal(t, 3, r.Code)
	assert.Equal(t, "denied", r.Message)
	assert.True(t, envelope.IsBusiness(r.Err))
}

func TestSchema_WithDefaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, envelope.Schema{CodeField: "status", MessageField: "msg", PayloadField: "result", SuccessCode: 1}, envelope.Schema{CodeField: "status", SuccessCode: 1}.WithDefaults())
}

func TestFailed(t *testing.T) {
	t.Parallel()
	assert.Equal(t, envelope.CodeTransportFailed, envelope.Failed(errors.New("boom")).Code)
	assert.Equal(t, 5, envelope.Failed(fmt.Errorf("wrapped: %w", &envelope.BusinessError{Code: 5})).Code)
	assert.Equal(t, envelope.CodeFormInvalid, envelope.Failed(&envelope.ParseError{Reason: envelope.ReasonFormInvalid}).Code)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestPayloadAs(t *testing.T) {
	t.Parallel()
	r := envelope.Parse(object(`{"code":0,"result":{"x":1,"y":2}}`), envelope.DefaultSchema())
	p, err := envelope.PayloadAs[point](r)
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2}, p)

	// Payload of the matching type is returned directly
	m, err := envelope.PayloadAs[map[string]any](r)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, m)

	// Failed result
	r = envelope.Parse(object(`{"code":3,"msg":"x"}`), envelope.DefaultSchema())
	_, err = envelope.PayloadAs[point](r)
	require.Error(t, err)
	assert.True(t, envelope.IsBusiness(err))

	// Type mismatch
	r = envelope.Parse(object(`{"code":0,"result":"text"}`), envelope.DefaultSchema())
	_, err = envelope.PayloadAs[point](r)
	require.Error(t, err)
}

func TestResults(t *testing.T) {
	t.Parallel()
	results := envelope.Results{
		envelope.Parse(object(`{"code":0,"result":1}`), envelope.DefaultSchema()),
		envelope.Parse(object(`{"code":2,"msg":"denied"}`), envelope.DefaultSchema()),
		envelope.Parse(envelope.Raw{Err: errors.New("timeout")}, envelope.DefaultSchema()),
	}
	assert.Equal(t, 1, results.OKCount())
	assert.Equal(t, []int{0, 2, envelope.CodeTransportFailed}, results.Codes())

	err := results.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result 1: server returned code 2: denied")
	assert.Contains(t, err.Error(), "result 2: transport failed: timeout")

	assert.NoError(t, envelope.Results{results[0]}.Err())
}

func ptr[T any](v T) *T {
	return &v
}
