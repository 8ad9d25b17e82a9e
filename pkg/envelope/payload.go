package envelope

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// PayloadAs decodes payload of the successful result to the T type.
// The result error is returned, if the result is not successful.
func PayloadAs[T any](r Result) (out T, err error) {
	if r.Err != nil {
		return out, r.Err
	}

	if typed, ok := r.Payload.(T); ok {
		return typed, nil
	}

	bytes, err := json.Marshal(r.Payload)
	if err != nil {
		return out, fmt.Errorf("cannot encode payload: %w", err)
	}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return out, fmt.Errorf("cannot decode payload to %T: %w", out, err)
	}
	return out, nil
}

// Results is an ordered list of results, for example from a batch.
type Results []Result

// OKCount returns number of successful results.
func (v Results) OKCount() int {
	count := 0
	for _, r := range v {
		if r.OK() {
			count++
		}
	}
	return count
}

// Err returns all errors combined, or nil if all results are successful.
func (v Results) Err() error {
	var errs *multierror.Error
	for i, r := range v {
		if r.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("result %d: %w", i, r.Err))
		}
	}
	return errs.ErrorOrNil()
}

// Codes returns code of each result.
func (v Results) Codes() []int {
	out := make([]int, len(v))
	for i, r := range v {
		out[i] = r.Code
	}
	return out
}
