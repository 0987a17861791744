// Package jsonrpc defines the JSON-RPC 2.0 wire envelopes used across the
// gateway: requests, responses, the standard error object, and a Batchable
// generic that preserves whether a message arrived as a single object or a
// batch array, so a response can be shaped to match.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes used by this gateway.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternal       = -32603
)

// Id is a JSON-RPC request/response identifier: string, number, or null.
type Id struct {
	raw json.RawMessage
}

func NewId(v interface{}) Id {
	b, err := json.Marshal(v)
	if err != nil {
		return Id{}
	}
	return Id{raw: b}
}

func (i Id) MarshalJSON() ([]byte, error) {
	if i.raw == nil {
		return []byte("null"), nil
	}
	return i.raw, nil
}

func (i *Id) UnmarshalJSON(b []byte) error {
	i.raw = append(json.RawMessage{}, b...)
	return nil
}

func (i Id) IsNull() bool {
	return len(i.raw) == 0 || bytes.Equal(bytes.TrimSpace(i.raw), []byte("null"))
}

// Request is a single JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      Id              `json:"id"`
}

// NewRequest builds a Request with params marshaled from v.
func NewRequest(id int, method string, params interface{}) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      NewId(id),
	}, nil
}

// ErrorObj is the JSON-RPC 2.0 error object.
type ErrorObj struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewError(code int64, msg string) ErrorObj {
	return ErrorObj{Code: code, Message: msg}
}

// UnknownError is the catch-all internal error used for rewrite failures.
func UnknownError(msg string) ErrorObj {
	return NewError(CodeInternal, msg)
}

// Response is a full JSON-RPC 2.0 response: exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObj       `json:"error,omitempty"`
	ID      *Id             `json:"id"`
}

func NewErrorResponse(err ErrorObj, id *Id) Response {
	return Response{JSONRPC: "2.0", Error: &err, ID: id}
}

func NewResultResponse(result json.RawMessage, id Id) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: &id}
}

// Ok reports whether this response carries a result rather than an error.
func (r Response) Ok() bool {
	return r.Error == nil
}

// Batchable holds either a single T or a slice of T, tracking which shape
// the wire message used so a response can preserve the client's expectation.
type Batchable[T any] struct {
	single *T
	batch  []T
}

func Single[T any](v T) Batchable[T] {
	return Batchable[T]{single: &v}
}

func Batch[T any](vs []T) Batchable[T] {
	return Batchable[T]{batch: vs}
}

func (b Batchable[T]) IsBatch() bool {
	return b.batch != nil
}

// AsSingle returns the wrapped value and true if this is a single (non-batch).
func (b Batchable[T]) AsSingle() (T, bool) {
	if b.single != nil {
		return *b.single, true
	}
	var zero T
	return zero, false
}

// Items returns the values in order regardless of shape.
func (b Batchable[T]) Items() []T {
	if b.batch != nil {
		return b.batch
	}
	if b.single != nil {
		return []T{*b.single}
	}
	return nil
}

func (b Batchable[T]) Len() int {
	if b.batch != nil {
		return len(b.batch)
	}
	if b.single != nil {
		return 1
	}
	return 0
}

func (b Batchable[T]) MarshalJSON() ([]byte, error) {
	if b.batch != nil {
		return json.Marshal(b.batch)
	}
	return json.Marshal(b.single)
}

var errEmptyBatchable = errors.New("jsonrpc: empty message")

// ParseBatchable parses data as either a single JSON object or a JSON array,
// matching the Rust Batchable::parse tolerant-shape behavior.
func ParseBatchable[T any](data []byte) (Batchable[T], error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Batchable[T]{}, errEmptyBatchable
	}
	if trimmed[0] == '[' {
		var vs []T
		if err := json.Unmarshal(trimmed, &vs); err != nil {
			return Batchable[T]{}, fmt.Errorf("jsonrpc: parse batch: %w", err)
		}
		return Batch(vs), nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Batchable[T]{}, fmt.Errorf("jsonrpc: parse single: %w", err)
	}
	return Single(v), nil
}
