package correlation

import (
	"errors"
	"fmt"
)

// Standard errors returned by the correlation table.
var (
	// ErrConnectionClosed rejects requests outstanding when the connection ends.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSessionDetached rejects requests outstanding on a session that went away.
	ErrSessionDetached = errors.New("session detached")

	// ErrDuplicateID indicates a request id that is already outstanding.
	ErrDuplicateID = errors.New("correlation: duplicate request id")
)

// Close reasons used by the engine.
const (
	ReasonShutdown        = "shutdown"
	ReasonTransportError  = "transport-error"
	ReasonSessionDetached = "session detached"
)

// RejectError is the error a Pending settles with when it is torn down
// rather than answered.
type RejectError struct {
	// SessionID is the session the request was scoped to.
	SessionID string

	// Reason is the human readable cause, e.g. "shutdown".
	Reason string

	// Err is ErrConnectionClosed or ErrSessionDetached.
	Err error

	// Cause is the underlying failure, if any (for example a transport read error).
	Cause error
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the category and the cause.
func (e *RejectError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ForSession returns a copy of the error scoped to sessionID.
func (e *RejectError) ForSession(sessionID string) *RejectError {
	c := *e
	c.SessionID = sessionID
	return &c
}

// Closed returns a RejectError for a connection closed with reason.
func Closed(reason string, cause error) *RejectError {
	return &RejectError{Reason: reason, Err: ErrConnectionClosed, Cause: cause}
}

// Detached returns a RejectError for a session that went away.
func Detached(sessionID string) *RejectError {
	return &RejectError{SessionID: sessionID, Reason: ReasonSessionDetached, Err: ErrSessionDetached}
}
