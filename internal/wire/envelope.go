// Package wire converts raw protocol frames to and from envelopes.
//
// Three envelope shapes travel over a connection:
//
//	Request   {"id":1,"sessionId":"S1","method":"Runtime.evaluate","params":{...}}
//	Response  {"id":1,"sessionId":"S1","result":{...}}  or  {"id":1,"error":{"code":-32000,"message":"..."}}
//	Event     {"sessionId":"S1","method":"Debugger.paused","params":{...}}
//
// The package only looks at envelope fields. Params and results are kept as
// raw JSON and never validated against a schema.
package wire

import (
	"encoding/json"
	"strings"
)

// Kind identifies the envelope shape.
type Kind int

const (
	// KindRequest is a client-to-remote command.
	KindRequest Kind = iota
	// KindResponse answers a request by id.
	KindResponse
	// KindEvent is an unsolicited notification.
	KindEvent
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Envelope is implemented by *Request, *Response and *Event.
type Envelope interface {
	Kind() Kind
	Session() string
}

// Request is a command sent to the remote endpoint.
type Request struct {
	ID        int64
	SessionID string
	Method    string
	Params    json.RawMessage
}

// Kind implements Envelope.
func (r *Request) Kind() Kind { return KindRequest }

// Session implements Envelope.
func (r *Request) Session() string { return r.SessionID }

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID        int64
	SessionID string
	Result    json.RawMessage
	Error     *RPCError
}

// Kind implements Envelope.
func (r *Response) Kind() Kind { return KindResponse }

// Session implements Envelope.
func (r *Response) Session() string { return r.SessionID }

// Event is an unsolicited message from the remote endpoint.
type Event struct {
	SessionID string
	Method    string
	Params    json.RawMessage
}

// Kind implements Envelope.
func (e *Event) Kind() Kind { return KindEvent }

// Session implements Envelope.
func (e *Event) Session() string { return e.SessionID }

// Domain returns the part of the method before the first dot.
func (e *Event) Domain() string {
	domain, _, _ := SplitMethod(e.Method)
	return domain
}

// SplitMethod splits "Domain.method" into its two halves.
// ok is false when either half is empty or the dot is missing.
func SplitMethod(method string) (domain, name string, ok bool) {
	domain, name, found := strings.Cut(method, ".")
	if !found || domain == "" || name == "" {
		return "", "", false
	}
	return domain, name, true
}
