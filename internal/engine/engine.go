package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/devwire/internal/correlation"
	"github.com/dshills/devwire/internal/metrics"
	"github.com/dshills/devwire/internal/registry"
	"github.com/dshills/devwire/internal/router"
	"github.com/dshills/devwire/internal/transport"
	"github.com/dshills/devwire/internal/wire"
)

const tracerName = "github.com/dshills/devwire/internal/engine"

// State is the engine's connection state.
type State int32

const (
	// StateConnected accepts new calls.
	StateConnected State = iota
	// StateClosing is tearing down sessions.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine drives one connection. It is safe for concurrent use.
type Engine struct {
	id        string
	transport transport.Transport
	table     *correlation.Table
	sessions  *registry.Registry
	router    *router.Router
	lifecycle lifecycleIndex

	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// mu orders registrations (Call, On, CreateSession) against teardown.
	mu sync.Mutex
	// inbound serializes Receive.
	inbound sync.Mutex

	state    atomic.Int32
	done     chan struct{}
	closeErr error
}

// New creates a Connected engine over t. The engine does not read from t
// until Serve is called.
func New(t transport.Transport, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		id:        uuid.NewString(),
		transport: t,
		lifecycle: newLifecycleIndex(o.lifecycle),
		metrics:   o.metrics,
		tracer:    o.tracer,
		done:      make(chan struct{}),
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.logger = o.logger.With().Str("component", "engine").Str("conn", e.id).Logger()

	e.table = correlation.NewTable(
		correlation.WithLogger(e.logger),
		correlation.WithFirstID(o.firstID),
	)
	e.router = router.New(
		router.WithLogger(e.logger),
		router.WithPanicHandler(func(*wire.Event, string, any, []byte) {
			e.metrics.ListenerPanics.Inc()
		}),
	)
	e.sessions = registry.New(
		registry.WithLogger(e.logger),
		registry.WithTombstoneLimit(o.tombstoneLimit),
		registry.WithTeardown(e.teardown),
	)
	return e
}

// teardown runs for every destroyed session while e.mu is held.
func (e *Engine) teardown(s registry.Session, cause error) {
	err := cause
	var re *correlation.RejectError
	if errors.As(cause, &re) {
		err = re.ForSession(s.ID)
	}
	rejected := e.table.RejectAll(s.ID, err)
	removed := e.router.RemoveAllForSession(s.ID)

	if !s.IsRoot() {
		e.metrics.SessionsDestroyed.Inc()
		e.metrics.SessionsLive.Dec()
	}
	e.logger.Debug().
		Str("session", s.ID).
		Str("target", s.TargetID).
		Int("rejected", rejected).
		Int("listeners", removed).
		Msg("session torn down")
}

// ID returns the connection id used in logs.
func (e *Engine) ID() string {
	return e.id
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Done is closed once the engine reaches StateClosed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the *correlation.RejectError the engine closed with, or nil
// while it is still open.
func (e *Engine) Err() error {
	select {
	case <-e.done:
		return e.closeErr
	default:
		return nil
	}
}

// Call sends method to sessionID and returns the pending request without
// waiting. It fails synchronously, without writing anything, when the engine
// is not connected, the session is not live or params is not a JSON object.
//
// A write failure closes the engine with reason "transport-error"; the
// returned Pending is then already rejected.
func (e *Engine) Call(ctx context.Context, sessionID, method string, params any) (*correlation.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.State() != StateConnected {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if !e.sessions.Live(sessionID) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	id := e.table.Allocate()
	frame, err := wire.EncodeRequest(id, sessionID, method, params)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	p, err := e.table.Register(id, sessionID, method)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := e.transport.Write(context.WithoutCancel(ctx), frame); err != nil {
		e.logger.Warn().Err(err).Int64("id", id).Str("method", method).Msg("write failed")
		_ = e.CloseWithReason(correlation.ReasonTransportError, err)
	}
	return p, nil
}

// Send calls method and waits for its result. If ctx ends first the request
// is abandoned; a response arriving later is discarded.
func (e *Engine) Send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	ctx, span := e.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "devwire"),
			attribute.String("rpc.method", method),
			attribute.String("devwire.session", sessionID),
		),
	)
	defer span.End()

	start := time.Now()
	p, err := e.Call(ctx, sessionID, method, params)
	if err != nil {
		e.metrics.ObserveRequest(metrics.OutcomeRejected, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("devwire.request_id", p.ID()))

	result, err := p.Wait(ctx)
	outcome := metrics.OutcomeOK
	if err != nil {
		var rpcErr *wire.RPCError
		switch {
		case errors.As(err, &rpcErr):
			outcome = metrics.OutcomeRPCError
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			outcome = metrics.OutcomeAbandoned
			if e.table.Abandon(p.ID()) {
				e.logger.Debug().Int64("id", p.ID()).Str("method", method).Msg("request abandoned")
			}
		default:
			outcome = metrics.OutcomeRejected
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.ObserveRequest(outcome, time.Since(start))
	return result, err
}

// On registers fn for method events on sessionID and returns a function
// that removes it. sessionID may be router.AnySession and method may be
// router.AnyMethod. Listeners on a session are removed when it is torn down.
func (e *Engine) On(sessionID, method string, fn router.Listener) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateConnected {
		return nil, ErrClosed
	}
	if sessionID != router.AnySession && !e.sessions.Live(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	return e.router.On(sessionID, method, fn), nil
}

// Enable sends "<domain>.enable" on sessionID unless the domain is already
// marked enabled there.
func (e *Engine) Enable(ctx context.Context, sessionID, domain string) error {
	if e.sessions.IsDomainEnabled(sessionID, domain) {
		return nil
	}
	if _, err := e.Send(ctx, sessionID, domain+".enable", nil); err != nil {
		return fmt.Errorf("enable %s: %w", domain, err)
	}
	e.sessions.MarkDomainEnabled(sessionID, domain)
	return nil
}

// Disable sends "<domain>.disable" on sessionID and clears the mark.
func (e *Engine) Disable(ctx context.Context, sessionID, domain string) error {
	e.sessions.MarkDomainDisabled(sessionID, domain)
	if _, err := e.Send(ctx, sessionID, domain+".disable", nil); err != nil {
		return fmt.Errorf("disable %s: %w", domain, err)
	}
	return nil
}

// CreateSession registers a session directly, for layers that interpret
// attach notifications themselves. It reports false for a duplicate.
func (e *Engine) CreateSession(sessionID, targetID, parentID string) (registry.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != StateConnected {
		return registry.Session{}, false
	}
	return e.createLocked(sessionID, targetID, parentID)
}

func (e *Engine) createLocked(sessionID, targetID, parentID string) (registry.Session, bool) {
	s, ok := e.sessions.Create(sessionID, targetID, parentID)
	if ok {
		e.metrics.SessionsCreated.Inc()
		e.metrics.SessionsLive.Inc()
		e.logger.Debug().
			Str("session", s.ID).
			Str("target", s.TargetID).
			Str("parent", s.ParentID).
			Msg("session attached")
	}
	return s, ok
}

// DestroySession tears down sessionID and its descendants. Unknown ids are
// a no-op.
func (e *Engine) DestroySession(sessionID string) []registry.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Destroy(sessionID, correlation.Detached(sessionID))
}

// Sessions returns the live non-root sessions, parents first.
func (e *Engine) Sessions() []registry.Session {
	return e.sessions.Sessions()
}

// Session returns the live session with the given id.
func (e *Engine) Session(sessionID string) (registry.Session, bool) {
	return e.sessions.Lookup(sessionID)
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int {
	return e.table.Len()
}

// Receive processes one inbound frame. Frames are handled one at a time;
// concurrent callers are serialized. Malformed frames and traffic for
// destroyed sessions are logged and dropped.
func (e *Engine) Receive(frame []byte) {
	e.inbound.Lock()
	defer e.inbound.Unlock()

	if e.State() != StateConnected {
		return
	}

	env, err := wire.Decode(frame)
	if err != nil {
		e.metrics.DecodeErrors.Inc()
		ev := e.logger.Warn().Err(err)
		var de *wire.DecodeError
		if errors.As(err, &de) {
			ev = ev.Str("frame", de.Snippet(120))
		}
		ev.Msg("discarding undecodable frame")
		return
	}
	e.metrics.FramesReceived.WithLabelValues(env.Kind().String()).Inc()

	switch m := env.(type) {
	case *wire.Response:
		e.receiveResponse(m)
	case *wire.Event:
		e.receiveEvent(m)
	default:
		e.logger.Debug().Str("kind", env.Kind().String()).Msg("ignoring inbound frame")
	}
}

func (e *Engine) receiveResponse(resp *wire.Response) {
	sid, attr := e.sessions.Attribute(resp.SessionID)
	if attr == registry.AttributeDropped {
		e.metrics.DroppedFrames.Inc()
		e.logger.Debug().
			Int64("id", resp.ID).
			Str("session", resp.SessionID).
			Msg("dropping response for destroyed session")
		return
	}
	resp.SessionID = sid
	if !e.table.Resolve(resp) {
		e.metrics.UnmatchedResponses.Inc()
	}
}

func (e *Engine) receiveEvent(ev *wire.Event) {
	sid, attr := e.sessions.Attribute(ev.SessionID)
	if attr == registry.AttributeDropped {
		e.metrics.DroppedFrames.Inc()
		e.logger.Debug().
			Str("method", ev.Method).
			Str("session", ev.SessionID).
			Msg("dropping event for destroyed session")
		return
	}
	ev.SessionID = sid

	if t := e.lifecycle.classify(ev.Method); t != transitionNone {
		e.mu.Lock()
		e.applyLocked(t, ev)
		e.mu.Unlock()
	}

	e.router.Dispatch(ev)
}

func (e *Engine) applyLocked(t transition, ev *wire.Event) {
	if e.State() != StateConnected {
		return
	}
	lc := e.lifecycle.lc
	switch t {
	case transitionAttach:
		sid := param(ev.Params, lc.AttachSessionPath)
		e.createLocked(sid, param(ev.Params, lc.AttachTargetPath), ev.SessionID)
	case transitionDetach:
		sid := param(ev.Params, lc.DetachSessionPath)
		if sid == "" {
			e.logger.Warn().Str("method", ev.Method).Msg("detach without a session id")
			return
		}
		e.sessions.Destroy(sid, correlation.Detached(sid))
	case transitionTargetGone:
		target := param(ev.Params, lc.TargetGonePath)
		if target == "" {
			e.logger.Warn().Str("method", ev.Method).Msg("target notification without a target id")
			return
		}
		e.sessions.DestroyTarget(target, correlation.Detached(""))
	}
}

// Serve reads frames from the transport until ctx ends, the engine is
// closed or the transport fails. Ending ctx closes the engine with reason
// "shutdown"; a read error closes it with "transport-error" and is returned.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		frame, err := e.transport.Read(ctx)
		if err != nil {
			switch {
			case e.State() != StateConnected:
				return nil
			case ctx.Err() != nil:
				_ = e.CloseWithReason(correlation.ReasonShutdown, nil)
				return nil
			default:
				_ = e.CloseWithReason(correlation.ReasonTransportError, err)
				return fmt.Errorf("read frame: %w", err)
			}
		}
		e.Receive(frame)
	}
}

// Close closes the engine with reason "shutdown".
func (e *Engine) Close() error {
	return e.CloseWithReason(correlation.ReasonShutdown, nil)
}

// CloseWithReason tears down every session, root included, rejects every
// outstanding request with reason, removes every listener and closes the
// transport. Only the first call has any effect.
func (e *Engine) CloseWithReason(reason string, cause error) error {
	if !e.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return nil
	}

	rejectErr := correlation.Closed(reason, cause)

	e.mu.Lock()
	destroyed := e.sessions.DestroyAll(rejectErr)
	stragglers := e.table.RejectEverything(rejectErr)
	e.router.RemoveAll()
	e.mu.Unlock()

	err := e.transport.Close()

	e.closeErr = rejectErr
	e.state.Store(int32(StateClosed))
	close(e.done)

	level := zerolog.InfoLevel
	if cause != nil {
		level = zerolog.WarnLevel
	}
	e.logger.WithLevel(level).
		AnErr("cause", cause).
		Str("reason", reason).
		Int("sessions", len(destroyed)).
		Int("stragglers", stragglers).
		Msg("connection closed")
	return err
}
