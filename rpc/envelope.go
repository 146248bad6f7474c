// Package rpc implements the gateway request/response protocol over a single
// WebSocket connection.
//
// Control frames are JSON text; file contents for the read API stream as raw
// binary frames between a file/start marker and the terminating response.
package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Response type discriminants.
const (
	TypeResponse = "response"
	TypeError    = "error"
)

// Control frame type discriminants sent by the gateway.
const (
	// TypeCheck is the gateway's reply to a liveness probe. Discarded.
	TypeCheck = "check"
	// TypeFile marks the start or end of a binary transfer.
	TypeFile = "file"
)

// File marker values carried in a TypeFile frame's data field.
const (
	FileStart = "start"
	FileEnd   = "end"
)

// APICheckConnection is the liveness no-op.
const APICheckConnection = "check_connection"

// Request is an outbound call.
type Request struct {
	API       string         `json:"api"`
	Params    map[string]any `json:"params"`
	RequestID string         `json:"request_id"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(api string, params map[string]any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{API: api, Params: params, RequestID: NewRequestID()}
}

// NewRequestID returns a 32-character hex request id.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Response is an inbound reply correlated by RequestID.
//
// Bytes is populated only for a response that concludes a file transfer and
// holds every binary chunk received for it, in arrival order. It is never
// serialized.
type Response struct {
	Type      string          `json:"type"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id"`
	Bytes     []byte          `json:"-"`
}

// Success reports whether the peer accepted the call.
func (r *Response) Success() bool {
	return r.Type == TypeResponse
}

// DecodeData unmarshals the data payload into v.
// A missing payload leaves v untouched.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &Error{
			Kind:      ErrProtocol,
			Code:      CodeProtocol,
			Message:   fmt.Sprintf("decode %s data", r.Type),
			RequestID: r.RequestID,
			Err:       err,
		}
	}
	return nil
}

// frame is the union of every JSON text frame the gateway sends.
// Type selects the interpretation; for TypeFile, Data is the marker string.
type frame struct {
	Type      string          `json:"type"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id"`
}

// fileMarker returns the start/end marker for a TypeFile frame.
func (f *frame) fileMarker() string {
	var marker string
	_ = json.Unmarshal(f.Data, &marker)
	return marker
}

func (f *frame) response() *Response {
	return &Response{
		Type:      f.Type,
		Code:      f.Code,
		Message:   f.Message,
		Data:      f.Data,
		RequestID: f.RequestID,
	}
}
