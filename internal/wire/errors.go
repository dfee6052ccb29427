package wire

import (
	"errors"
	"fmt"
)

// Standard errors returned by the codec.
var (
	// ErrMalformed indicates a frame that is not a valid envelope.
	ErrMalformed = errors.New("wire: malformed frame")

	// ErrInvalidParams indicates request params that do not encode to a JSON object.
	ErrInvalidParams = errors.New("wire: params must be a JSON object")

	// ErrInvalidMethod indicates a method that is not of the form "Domain.method".
	ErrInvalidMethod = errors.New("wire: method must be of the form Domain.method")
)

// RPCError is the error member of a failed response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Common JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000

	// CodeMalformedError is reported when an error member has no usable shape.
	CodeMalformedError = 0
)

// MalformedErrorMessage stands in for a missing or non-string error message.
const MalformedErrorMessage = "malformed error response"

// DecodeError is the failure value of Decode. It keeps the raw frame for diagnostics.
type DecodeError struct {
	Frame  []byte
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return "wire: decode: " + e.Reason
}

// Unwrap lets callers match ErrMalformed.
func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

// Snippet returns at most n bytes of the frame, for log lines.
func (e *DecodeError) Snippet(n int) string {
	if len(e.Frame) <= n {
		return string(e.Frame)
	}
	return string(e.Frame[:n]) + "..."
}

func decodeErr(frame []byte, reason string) *DecodeError {
	kept := make([]byte, len(frame))
	copy(kept, frame)
	return &DecodeError{Frame: kept, Reason: reason}
}
