// Package router delivers events to listeners keyed by session and method.
//
// Listeners are registered for a (session, method) pair. Two wildcards exist
// for diagnostics: AnyMethod matches every method on a session, and
// AnySession matches every session. Dispatch order for one event is:
// exact listeners, then the session's AnyMethod listeners, then AnySession
// listeners for the method, then AnySession/AnyMethod listeners. Within each
// group, listeners run in registration order.
package router

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/devwire/internal/wire"
)

// Wildcards accepted by On.
const (
	AnyMethod  = "*"
	AnySession = "*"
)

// Listener receives one event. It runs synchronously on the dispatching
// goroutine and must not block for long.
type Listener func(ev *wire.Event)

// PanicHandler is told about a listener that panicked.
type PanicHandler func(ev *wire.Event, listenerID string, recovered any, stack []byte)

type key struct {
	session string
	method  string
}

type entry struct {
	id      string
	key     key
	fn      Listener
	removed atomic.Bool
}

// Router is the listener table. It is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	listeners map[key][]*entry
	byID      map[string]*entry

	onPanic PanicHandler
	logger  zerolog.Logger

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	panicked   atomic.Uint64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithPanicHandler sets a hook called after a listener panic is recovered.
func WithPanicHandler(h PanicHandler) Option {
	return func(r *Router) {
		r.onPanic = h
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{
		listeners: make(map[key][]*entry),
		byID:      make(map[string]*entry),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers fn for method events on sessionID and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (r *Router) On(sessionID, method string, fn Listener) (unsubscribe func()) {
	e := &entry{
		id:  uuid.NewString(),
		key: key{session: sessionID, method: method},
		fn:  fn,
	}

	r.mu.Lock()
	r.listeners[e.key] = append(r.listeners[e.key], e)
	r.byID[e.id] = e
	r.mu.Unlock()

	return func() { r.remove(e.id) }
}

func (r *Router) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	r.dropLocked(e)
	return true
}

func (r *Router) dropLocked(e *entry) {
	e.removed.Store(true)
	delete(r.byID, e.id)
	list := slices.DeleteFunc(r.listeners[e.key], func(x *entry) bool { return x == e })
	if len(list) == 0 {
		delete(r.listeners, e.key)
		return
	}
	r.listeners[e.key] = list
}

// Dispatch runs every listener matching ev and returns how many ran.
// A panicking listener is recovered and reported; the remaining listeners
// still run. A listener removed by an earlier listener in the same dispatch
// is skipped.
func (r *Router) Dispatch(ev *wire.Event) int {
	r.dispatched.Add(1)

	r.mu.RLock()
	var targets []*entry
	for _, k := range dispatchKeys(ev.SessionID, ev.Method) {
		targets = append(targets, r.listeners[k]...)
	}
	r.mu.RUnlock()

	ran := 0
	for _, e := range targets {
		if e.removed.Load() {
			continue
		}
		r.invoke(e, ev)
		ran++
	}
	r.delivered.Add(uint64(ran))
	return ran
}

func dispatchKeys(sessionID, method string) []key {
	all := [...]key{
		{session: sessionID, method: method},
		{session: sessionID, method: AnyMethod},
		{session: AnySession, method: method},
		{session: AnySession, method: AnyMethod},
	}
	// An event that itself carries a wildcard must not hit a listener twice.
	keys := make([]key, 0, len(all))
	for _, k := range all {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *Router) invoke(e *entry, ev *wire.Event) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		stack := debug.Stack()
		r.panicked.Add(1)
		r.logger.Error().
			Str("listener", e.id).
			Str("session", ev.SessionID).
			Str("method", ev.Method).
			Str("panic", fmt.Sprint(rec)).
			Msg("listener panicked")
		if r.onPanic != nil {
			func() {
				defer func() { _ = recover() }()
				r.onPanic(ev, e.id, rec, stack)
			}()
		}
	}()
	e.fn(ev)
}

// RemoveAllForSession drops every listener registered on sessionID and
// returns how many were dropped. Wildcard-session listeners are kept.
func (r *Router) RemoveAllForSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, list := range r.listeners {
		if k.session != sessionID {
			continue
		}
		for _, e := range list {
			e.removed.Store(true)
			delete(r.byID, e.id)
			n++
		}
		delete(r.listeners, k)
	}
	return n
}

// RemoveAll drops every listener, wildcards included.
func (r *Router) RemoveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.byID)
	for _, e := range r.byID {
		e.removed.Store(true)
	}
	r.listeners = make(map[key][]*entry)
	r.byID = make(map[string]*entry)
	return n
}

// Len returns the number of registered listeners.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// LenSession returns the number of listeners registered on sessionID.
func (r *Router) LenSession(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k, list := range r.listeners {
		if k.session == sessionID {
			n += len(list)
		}
	}
	return n
}

// Stats is a snapshot of router counters.
type Stats struct {
	Dispatched uint64
	Delivered  uint64
	Panicked   uint64
	Listeners  int
}

// Stats returns dispatch statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Dispatched: r.dispatched.Load(),
		Delivered:  r.delivered.Load(),
		Panicked:   r.panicked.Load(),
		Listeners:  r.Len(),
	}
}
