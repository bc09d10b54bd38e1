package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is one call read from a newline-delimited JSON stream.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"` // echo | sleep | ping | close
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID. Exactly one of Result and
// Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK builds a successful response carrying v as its result.
func OK(id string, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode result: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// Failure builds an error response.
func Failure(id string, err error) Response {
	return Response{ID: id, Error: err.Error()}
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != ""
}
