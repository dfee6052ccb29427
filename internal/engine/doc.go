// Package engine multiplexes debugging sessions over one protocol connection.
//
// An Engine owns a correlation table, a session registry and an event
// router for exactly one transport. Callers issue commands with Call or
// Send, subscribe to notifications with On, and feed inbound frames either
// by running Serve or by calling Receive directly.
//
// # Processing model
//
// Inbound frames are handled strictly one at a time, in arrival order. For
// an event that changes the session tree (attach, detach, target gone) the
// registry is updated before the event is routed, so listeners on a session
// that was just torn down never see it, and requests can never be
// registered against a session that is mid-teardown.
//
// Listeners run on the goroutine that delivered the frame. They may call
// Call, Send, On and Close, but must not call Receive.
//
// # Lifecycle
//
// An engine starts Connected. Close, a transport failure or the end of the
// Serve context moves it through Closing to Closed; every outstanding
// request is rejected with a *correlation.RejectError carrying the reason,
// and later calls fail synchronously with ErrClosed.
package engine
