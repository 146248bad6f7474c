package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for call failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrConnectFailed indicates the WebSocket handshake did not complete.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected indicates a call on a transport without a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout indicates no response arrived within the call timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the caller's context was cancelled while waiting.
	ErrCancelled = errors.New("request cancelled")

	// ErrConnectionLost indicates the receive loop observed an unexpected disconnect.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectionClosed indicates the transport was closed locally.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrProtocol indicates a malformed or out-of-order frame sequence.
	ErrProtocol = errors.New("protocol error")

	// ErrRemote indicates the gateway explicitly rejected the call.
	ErrRemote = errors.New("remote error")

	// ErrTransport indicates a send or encode failure.
	ErrTransport = errors.New("transport error")
)

// Status codes attached to locally synthesized errors. They match the codes
// the gateway's own clients use so logs read the same on both sides.
const (
	CodeConnect   = 400
	CodeTimeout   = 401
	CodeTransport = 402
	CodeProtocol  = 403
	CodeClosed    = 404
)

// Error is a classified call failure.
// It preserves the underlying error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrTimeout).
	Kind error
	// Code is the status code: the peer's for ErrRemote, synthesized otherwise.
	Code int
	// Message is a human-readable description.
	Message string
	// RequestID is the id of the failed call, if one was allocated.
	RequestID string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v (code %d)", e.Kind, e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newError(kind error, code int, requestID, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Err:       err,
	}
}

// remoteError converts a peer error response into an *Error.
func remoteError(resp *Response) *Error {
	return &Error{
		Kind:      ErrRemote,
		Code:      resp.Code,
		Message:   resp.Message,
		RequestID: resp.RequestID,
	}
}

// CodeOf returns the status code carried by err, or 0 if err is not an *Error.
func CodeOf(err error) int {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}
