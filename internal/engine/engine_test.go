package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tidwall/gjson"

	"github.com/dshills/devwire/internal/correlation"
	"github.com/dshills/devwire/internal/metrics"
	"github.com/dshills/devwire/internal/router"
	"github.com/dshills/devwire/internal/transport"
	"github.com/dshills/devwire/internal/wire"
)

// fakeTransport records writes. onWrite, when set, runs after a write is
// recorded and may feed responses back into the engine.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
	onWrite  func(frame []byte)
}

func (f *fakeTransport) Write(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	if f.writeErr != nil {
		f.mu.Unlock()
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), frame...))
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeTransport, *metrics.Metrics) {
	t.Helper()
	ft := &fakeTransport{}
	m := metrics.New(nil)
	e := New(ft, append([]Option{WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { e.Close() })
	return e, ft, m
}

func recv(e *Engine, frame string) {
	e.Receive([]byte(frame))
}

func attach(e *Engine, sessionID, targetID, parentID string) {
	frame := fmt.Sprintf(`{"method":"Target.attachedToTarget","params":{"sessionId":%q,"targetInfo":{"targetId":%q,"type":"page"}}}`, sessionID, targetID)
	if parentID != "" {
		frame = fmt.Sprintf(`{"sessionId":%q,"method":"Target.attachedToTarget","params":{"sessionId":%q,"targetInfo":{"targetId":%q,"type":"page"}}}`, parentID, sessionID, targetID)
	}
	recv(e, frame)
}

func detach(e *Engine, sessionID, parentID string) {
	frame := fmt.Sprintf(`{"method":"Target.detachedFromTarget","params":{"sessionId":%q}}`, sessionID)
	if parentID != "" {
		frame = fmt.Sprintf(`{"sessionId":%q,"method":"Target.detachedFromTarget","params":{"sessionId":%q}}`, parentID, sessionID)
	}
	recv(e, frame)
}

func mustCall(t *testing.T, e *Engine, sessionID, method string, params any) *correlation.Pending {
	t.Helper()
	p, err := e.Call(context.Background(), sessionID, method, params)
	if err != nil {
		t.Fatalf("Call(%q, %q) error = %v", sessionID, method, err)
	}
	return p
}

func settled(t *testing.T, p *correlation.Pending) (json.RawMessage, error) {
	t.Helper()
	select {
	case <-p.Done():
		return p.Result()
	default:
		t.Fatalf("request %d (%s) is still pending", p.ID(), p.Method())
		return nil, nil
	}
}

func rejectReason(t *testing.T, err error) *correlation.RejectError {
	t.Helper()
	var re *correlation.RejectError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v (%T), want *correlation.RejectError", err, err)
	}
	return re
}

func TestEngine_SendResolves(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")

	p := mustCall(t, e, "S1", "Foo.bar", map[string]int{"x": 1})
	if p.ID() != 1 {
		t.Errorf("ID() = %d, want 1", p.ID())
	}

	frames := ft.frames()
	if len(frames) != 1 {
		t.Fatalf("writes = %d, want 1", len(frames))
	}
	want := `{"id":1,"sessionId":"S1","method":"Foo.bar","params":{"x":1}}`
	if string(frames[0]) != want {
		t.Errorf("frame = %s, want %s", frames[0], want)
	}

	recv(e, `{"id":1,"sessionId":"S1","result":{"y":2}}`)
	result, err := settled(t, p)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if string(result) != `{"y":2}` {
		t.Errorf("result = %s", result)
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d", e.Pending())
	}
}

func TestEngine_DetachRejectsPending(t *testing.T) {
	e, _, m := newTestEngine(t)
	attach(e, "S1", "T1", "")
	attach(e, "S2", "T2", "")

	p1 := mustCall(t, e, "S1", "Foo.bar", nil)
	p2 := mustCall(t, e, "S2", "Foo.baz", nil)

	detach(e, "S1", "")

	_, err := settled(t, p1)
	if !errors.Is(err, correlation.ErrSessionDetached) {
		t.Errorf("error = %v, want ErrSessionDetached", err)
	}
	if re := rejectReason(t, err); re.Reason != "session detached" || re.SessionID != "S1" {
		t.Errorf("RejectError = %+v", re)
	}

	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"S1","result":{"late":true}}`, p1.ID()))
	if got := testutil.ToFloat64(m.DroppedFrames); got != 1 {
		t.Errorf("DroppedFrames = %v, want 1", got)
	}

	select {
	case <-p2.Done():
		t.Fatal("request on S2 settled by S1 teardown")
	default:
	}
	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"S2","result":{}}`, p2.ID()))
	if _, err := settled(t, p2); err != nil {
		t.Errorf("S2 result error = %v", err)
	}
}

func TestEngine_CloseRejectsEverything(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")
	attach(e, "S2", "T2", "")

	pending := []*correlation.Pending{
		mustCall(t, e, "S1", "A.a", nil),
		mustCall(t, e, "S1", "A.b", nil),
		mustCall(t, e, "S2", "A.c", nil),
	}
	writes := len(ft.frames())

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, p := range pending {
		_, err := settled(t, p)
		if !errors.Is(err, correlation.ErrConnectionClosed) {
			t.Errorf("request %d error = %v, want ErrConnectionClosed", p.ID(), err)
		}
		if re := rejectReason(t, err); re.Reason != "shutdown" {
			t.Errorf("reason = %q, want shutdown", re.Reason)
		}
	}

	for _, sid := range []string{"", "S1", "S2"} {
		if _, err := e.Call(context.Background(), sid, "A.d", nil); !errors.Is(err, ErrClosed) {
			t.Errorf("Call(%q) after Close = %v, want ErrClosed", sid, err)
		}
	}
	if got := len(ft.frames()); got != writes {
		t.Errorf("writes after Close = %d, want %d", got, writes)
	}
	if !ft.isClosed() {
		t.Error("transport not closed")
	}
	if e.State() != StateClosed {
		t.Errorf("State() = %v", e.State())
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done() not closed")
	}
	if re := rejectReason(t, e.Err()); re.Reason != "shutdown" {
		t.Errorf("Err() reason = %q", re.Reason)
	}
	if len(e.Sessions()) != 0 {
		t.Errorf("Sessions() = %v", e.Sessions())
	}

	if err := e.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestEngine_ConcurrentCorrelation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	const n = 50
	pending := make([]*correlation.Pending, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := e.Call(context.Background(), "", "Runtime.evaluate", map[string]int{"i": i})
			if err != nil {
				t.Errorf("Call() error = %v", err)
				return
			}
			pending[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, p := range pending {
		if seen[p.ID()] {
			t.Fatalf("duplicate id %d", p.ID())
		}
		seen[p.ID()] = true
	}

	for i := n - 1; i >= 0; i-- {
		id := pending[i].ID()
		recv(e, fmt.Sprintf(`{"id":%d,"result":{"echo":%d}}`, id, id))
	}
	for _, p := range pending {
		result, err := settled(t, p)
		if err != nil {
			t.Fatalf("request %d error = %v", p.ID(), err)
		}
		if got := gjson.GetBytes(result, "echo").Int(); got != p.ID() {
			t.Errorf("request %d got result for %d", p.ID(), got)
		}
	}
}

func TestEngine_TeardownCascade(t *testing.T) {
	e, _, m := newTestEngine(t)
	attach(e, "A", "TA", "")
	attach(e, "B", "TB", "A")
	attach(e, "C", "TC", "B")

	if s, ok := e.Session("C"); !ok || s.ParentID != "B" {
		t.Fatalf("Session(C) = %+v, %v", s, ok)
	}

	var delivered []string
	var rootSaw []string
	for _, sid := range []string{"A", "B", "C"} {
		if _, err := e.On(sid, "Foo.ev", func(*wire.Event) { delivered = append(delivered, sid) }); err != nil {
			t.Fatalf("On(%s) error = %v", sid, err)
		}
	}
	if _, err := e.On(router.AnySession, router.AnyMethod, func(ev *wire.Event) {
		rootSaw = append(rootSaw, ev.SessionID+"/"+ev.Method)
	}); err != nil {
		t.Fatal(err)
	}

	pa := mustCall(t, e, "A", "X.a", nil)
	pb := mustCall(t, e, "B", "X.b", nil)
	pc := mustCall(t, e, "C", "X.c", nil)

	detach(e, "A", "")

	for _, c := range []struct {
		p   *correlation.Pending
		sid string
	}{{pa, "A"}, {pb, "B"}, {pc, "C"}} {
		_, err := settled(t, c.p)
		if !errors.Is(err, correlation.ErrSessionDetached) {
			t.Errorf("%s error = %v", c.sid, err)
		}
		if re := rejectReason(t, err); re.SessionID != c.sid {
			t.Errorf("%s rejected as session %q", c.sid, re.SessionID)
		}
	}

	rootSaw = nil
	recv(e, `{"sessionId":"B","method":"Foo.ev","params":{}}`)
	recv(e, `{"sessionId":"C","method":"Foo.ev","params":{}}`)
	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"B","result":{}}`, pb.ID()))
	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"C","error":{"code":-1,"message":"gone"}}`, pc.ID()))

	if len(delivered) != 0 {
		t.Errorf("listeners on destroyed sessions ran: %v", delivered)
	}
	if len(rootSaw) != 0 {
		t.Errorf("wildcard listener saw dropped frames: %v", rootSaw)
	}
	if got := testutil.ToFloat64(m.DroppedFrames); got != 4 {
		t.Errorf("DroppedFrames = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 0 {
		t.Errorf("UnmatchedResponses = %v, want 0", got)
	}
	if len(e.Sessions()) != 0 || e.Pending() != 0 {
		t.Errorf("Sessions() = %v, Pending() = %d", e.Sessions(), e.Pending())
	}
	if got := testutil.ToFloat64(m.SessionsDestroyed); got != 3 {
		t.Errorf("SessionsDestroyed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SessionsLive); got != 0 {
		t.Errorf("SessionsLive = %v, want 0", got)
	}
}

func TestEngine_DetachEventReachesParentListeners(t *testing.T) {
	e, _, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")

	var rootSaw, childSaw int
	e.On("", "Target.detachedFromTarget", func(*wire.Event) { rootSaw++ })
	e.On("S1", router.AnyMethod, func(*wire.Event) { childSaw++ })

	detach(e, "S1", "")
	if rootSaw != 1 {
		t.Errorf("root listener calls = %d, want 1", rootSaw)
	}
	if childSaw != 0 {
		t.Errorf("child listener calls = %d, want 0", childSaw)
	}
}

func TestEngine_ReattachAfterDetach(t *testing.T) {
	e, _, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")
	detach(e, "S1", "")

	if _, err := e.Call(context.Background(), "S1", "A.b", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Call on detached session = %v", err)
	}

	attach(e, "S1", "T1", "")
	p := mustCall(t, e, "S1", "A.b", nil)
	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"S1","result":{}}`, p.ID()))
	if _, err := settled(t, p); err != nil {
		t.Errorf("result error = %v", err)
	}
}

func TestEngine_IdempotentLifecycle(t *testing.T) {
	e, _, m := newTestEngine(t)
	attach(e, "S1", "T1", "")
	attach(e, "S1", "T1", "")
	if got := len(e.Sessions()); got != 1 {
		t.Errorf("Sessions() = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsCreated); got != 1 {
		t.Errorf("SessionsCreated = %v, want 1", got)
	}

	detach(e, "nope", "")
	if got := e.DestroySession("nope"); got != nil {
		t.Errorf("DestroySession(unknown) = %v", got)
	}
	if _, ok := e.Session("S1"); !ok {
		t.Error("S1 lost")
	}
	if _, ok := e.CreateSession("S1", "T1", ""); ok {
		t.Error("CreateSession duplicate reported true")
	}
}

func TestEngine_TargetGone(t *testing.T) {
	e, _, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")
	attach(e, "S2", "T1", "")
	attach(e, "S3", "T2", "")
	attach(e, "S4", "T3", "S1")

	p := mustCall(t, e, "S4", "A.b", nil)
	recv(e, `{"method":"Target.targetDestroyed","params":{"targetId":"T1"}}`)

	var live []string
	for _, s := range e.Sessions() {
		live = append(live, s.ID)
	}
	if !slices.Equal(live, []string{"S3"}) {
		t.Errorf("live = %v, want [S3]", live)
	}
	if _, err := settled(t, p); !errors.Is(err, correlation.ErrSessionDetached) {
		t.Errorf("S4 request error = %v", err)
	}
}

func TestEngine_CreateAndDestroySession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, ok := e.CreateSession("W1", "worker", ""); !ok {
		t.Fatal("CreateSession() = false")
	}
	p := mustCall(t, e, "W1", "Runtime.enable", nil)
	removed := e.DestroySession("W1")
	if len(removed) != 1 || removed[0].ID != "W1" {
		t.Errorf("DestroySession() = %v", removed)
	}
	if _, err := settled(t, p); !errors.Is(err, correlation.ErrSessionDetached) {
		t.Errorf("error = %v", err)
	}
}

func TestEngine_ListenerIsolation(t *testing.T) {
	e, _, m := newTestEngine(t)
	var got []string
	e.On("", "Runtime.consoleAPICalled", func(*wire.Event) { panic("boom") })
	e.On("", "Runtime.consoleAPICalled", func(*wire.Event) { got = append(got, "second") })

	recv(e, `{"method":"Runtime.consoleAPICalled","params":{"type":"log"}}`)
	recv(e, `{"method":"Runtime.consoleAPICalled","params":{"type":"log"}}`)

	if !slices.Equal(got, []string{"second", "second"}) {
		t.Errorf("got = %v", got)
	}
	if v := testutil.ToFloat64(m.ListenerPanics); v != 2 {
		t.Errorf("ListenerPanics = %v, want 2", v)
	}
}

func TestEngine_EventOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")

	var seen []string
	e.On("S1", "Network.requestWillBeSent", func(ev *wire.Event) {
		seen = append(seen, gjson.GetBytes(ev.Params, "requestId").String())
	})
	for _, id := range []string{"E1", "E2", "E3"} {
		recv(e, fmt.Sprintf(`{"sessionId":"S1","method":"Network.requestWillBeSent","params":{"requestId":%q}}`, id))
	}
	if !slices.Equal(seen, []string{"E1", "E2", "E3"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestEngine_UnknownSessionSendsNothing(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	if _, err := e.Call(context.Background(), "ghost", "A.b", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Call() error = %v, want ErrUnknownSession", err)
	}
	if _, err := e.On("ghost", "A.b", func(*wire.Event) {}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("On() error = %v, want ErrUnknownSession", err)
	}
	if len(ft.frames()) != 0 {
		t.Errorf("writes = %d, want 0", len(ft.frames()))
	}
}

func TestEngine_InvalidParamsSendsNothing(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	if _, err := e.Call(context.Background(), "", "A.b", []int{1}); !errors.Is(err, wire.ErrInvalidParams) {
		t.Errorf("Call() error = %v, want ErrInvalidParams", err)
	}
	if len(ft.frames()) != 0 || e.Pending() != 0 {
		t.Errorf("writes = %d, pending = %d", len(ft.frames()), e.Pending())
	}
}

func TestEngine_DecodeNoiseIgnored(t *testing.T) {
	e, _, m := newTestEngine(t)
	p := mustCall(t, e, "", "Browser.getVersion", nil)

	recv(e, `not json`)
	recv(e, `{"id":1}`)
	recv(e, `[1,2,3]`)
	if got := testutil.ToFloat64(m.DecodeErrors); got != 3 {
		t.Errorf("DecodeErrors = %v, want 3", got)
	}

	recv(e, `{"id":1,"result":{"product":"x"}}`)
	if _, err := settled(t, p); err != nil {
		t.Errorf("result error = %v", err)
	}
}

func TestEngine_IrregularResponsesSettle(t *testing.T) {
	e, _, m := newTestEngine(t)

	bare := mustCall(t, e, "", "Foo.bar", nil)
	recv(e, fmt.Sprintf(`{"id":%d,"error":{"code":-32000}}`, bare.ID()))
	_, err := settled(t, bare)
	var rpcErr *wire.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *wire.RPCError", err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != wire.MalformedErrorMessage {
		t.Errorf("RPCError = %+v", rpcErr)
	}

	nullErr := mustCall(t, e, "", "Foo.baz", nil)
	recv(e, fmt.Sprintf(`{"id":%d,"result":{"y":2},"error":null}`, nullErr.ID()))
	result, err := settled(t, nullErr)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if string(result) != `{"y":2}` {
		t.Errorf("result = %s", result)
	}

	if e.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", e.Pending())
	}
	if got := testutil.ToFloat64(m.DecodeErrors); got != 0 {
		t.Errorf("DecodeErrors = %v, want 0", got)
	}
}

func TestEngine_UnmatchedResponse(t *testing.T) {
	e, _, m := newTestEngine(t)
	recv(e, `{"id":99,"result":{}}`)
	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 1 {
		t.Errorf("UnmatchedResponses = %v, want 1", got)
	}
	if e.State() != StateConnected {
		t.Errorf("State() = %v", e.State())
	}
}

func TestEngine_UnknownSessionAttributedToRoot(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var got []string
	e.On("", "Runtime.consoleAPICalled", func(ev *wire.Event) { got = append(got, ev.SessionID) })
	recv(e, `{"sessionId":"not-yet-attached","method":"Runtime.consoleAPICalled","params":{}}`)
	if !slices.Equal(got, []string{""}) {
		t.Errorf("root listener got %v", got)
	}

	p := mustCall(t, e, "", "Target.getTargets", nil)
	recv(e, fmt.Sprintf(`{"id":%d,"sessionId":"not-yet-attached","result":{"targetInfos":[]}}`, p.ID()))
	if _, err := settled(t, p); err != nil {
		t.Errorf("root request error = %v", err)
	}
}

func TestEngine_EvictedSessionAttributedToRoot(t *testing.T) {
	e, _, _ := newTestEngine(t, WithTombstoneLimit(1))
	attach(e, "S1", "T1", "")
	attach(e, "S2", "T2", "")
	detach(e, "S1", "")
	detach(e, "S2", "")

	var got []string
	e.On("", "Runtime.consoleAPICalled", func(ev *wire.Event) { got = append(got, ev.SessionID) })
	recv(e, `{"sessionId":"S2","method":"Runtime.consoleAPICalled","params":{}}`)
	recv(e, `{"sessionId":"S1","method":"Runtime.consoleAPICalled","params":{}}`)
	if !slices.Equal(got, []string{""}) {
		t.Errorf("root listener got %v, want only the evicted session's event", got)
	}
}

func TestEngine_SendRPCError(t *testing.T) {
	e, ft, m := newTestEngine(t)
	ft.onWrite = func(frame []byte) {
		id := gjson.GetBytes(frame, "id").Int()
		recv(e, fmt.Sprintf(`{"id":%d,"error":{"code":-32601,"message":"'Nope.nope' wasn't found"}}`, id))
	}

	_, err := e.Send(context.Background(), "", "Nope.nope", nil)
	var rpcErr *wire.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *wire.RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d", rpcErr.Code)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeRPCError)); got != 1 {
		t.Errorf("rpc_error requests = %v", got)
	}
}

func TestEngine_SendAbandonsOnContext(t *testing.T) {
	e, _, m := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.Send(ctx, "", "Debugger.pause", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d after abandon", e.Pending())
	}

	recv(e, `{"id":1,"result":{}}`)
	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 1 {
		t.Errorf("UnmatchedResponses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeAbandoned)); got != 1 {
		t.Errorf("abandoned requests = %v", got)
	}
}

func TestEngine_WriteFailureClosesEngine(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")
	earlier := mustCall(t, e, "S1", "A.a", nil)

	ft.mu.Lock()
	ft.writeErr = errors.New("broken pipe")
	ft.mu.Unlock()

	p, err := e.Call(context.Background(), "", "A.b", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	for _, pp := range []*correlation.Pending{earlier, p} {
		_, err := settled(t, pp)
		if !errors.Is(err, correlation.ErrConnectionClosed) {
			t.Errorf("error = %v, want ErrConnectionClosed", err)
		}
		if re := rejectReason(t, err); re.Reason != "transport-error" {
			t.Errorf("reason = %q", re.Reason)
		}
	}
	if e.State() != StateClosed {
		t.Errorf("State() = %v", e.State())
	}
}

func TestEngine_Enable(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	attach(e, "S1", "T1", "")
	ft.onWrite = func(frame []byte) {
		id := gjson.GetBytes(frame, "id").Int()
		sid := gjson.GetBytes(frame, "sessionId").String()
		recv(e, fmt.Sprintf(`{"id":%d,"sessionId":%q,"result":{}}`, id, sid))
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := e.Enable(ctx, "S1", "Runtime"); err != nil {
			t.Fatalf("Enable() error = %v", err)
		}
	}
	var enables int
	for _, f := range ft.frames() {
		if gjson.GetBytes(f, "method").String() == "Runtime.enable" {
			enables++
		}
	}
	if enables != 1 {
		t.Errorf("Runtime.enable sent %d times, want 1", enables)
	}
	s, _ := e.Session("S1")
	if !slices.Equal(s.Domains, []string{"Runtime"}) {
		t.Errorf("Domains = %v", s.Domains)
	}

	if err := e.Disable(ctx, "S1", "Runtime"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if err := e.Enable(ctx, "S1", "Runtime"); err != nil {
		t.Fatal(err)
	}
	if got := len(ft.frames()); got != 3 {
		t.Errorf("writes = %d, want 3", got)
	}
}

func TestEngine_ReceiveAfterCloseIgnored(t *testing.T) {
	e, _, m := newTestEngine(t)
	e.Close()
	recv(e, `{"method":"Target.attachedToTarget","params":{"sessionId":"S1","targetInfo":{"targetId":"T1"}}}`)
	if len(e.Sessions()) != 0 {
		t.Error("attach processed after Close")
	}
	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("event")); got != 0 {
		t.Errorf("FramesReceived = %v", got)
	}
	if _, err := e.On("", "A.b", func(*wire.Event) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("On() after Close = %v", err)
	}
}

func TestEngine_CustomLifecycle(t *testing.T) {
	lc := Lifecycle{
		AttachMethods:     []string{"Inspector.attached"},
		AttachSessionPath: "session.id",
		AttachTargetPath:  "session.target",
		DetachMethods:     []string{"Inspector.detached"},
		DetachSessionPath: "id",
	}
	e, _, _ := newTestEngine(t, WithLifecycle(lc))

	recv(e, `{"method":"Inspector.attached","params":{"session":{"id":"X","target":"worker-1"}}}`)
	s, ok := e.Session("X")
	if !ok || s.TargetID != "worker-1" {
		t.Fatalf("Session(X) = %+v, %v", s, ok)
	}
	attach(e, "S1", "T1", "")
	if _, ok := e.Session("S1"); ok {
		t.Error("default attach method still active")
	}
	recv(e, `{"method":"Inspector.detached","params":{"id":"X"}}`)
	if _, ok := e.Session("X"); ok {
		t.Error("X still live")
	}
}

func TestEngine_ServeOverPipe(t *testing.T) {
	local, remote := transport.Pipe()
	e := New(local)

	served := make(chan error, 1)
	go func() { served <- e.Serve(context.Background()) }()

	type result struct {
		raw json.RawMessage
		err error
	}
	results := make(chan result, 1)
	go func() {
		raw, err := e.Send(context.Background(), "", "Browser.getVersion", nil)
		results <- result{raw, err}
	}()

	ctx := context.Background()
	frame, err := remote.Read(ctx)
	if err != nil {
		t.Fatalf("remote Read() error = %v", err)
	}
	id := gjson.GetBytes(frame, "id").Int()
	if err := remote.Write(ctx, []byte(fmt.Sprintf(`{"id":%d,"result":{"product":"Chrome/126"}}`, id))); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-results:
		if r.err != nil || gjson.GetBytes(r.raw, "product").String() != "Chrome/126" {
			t.Errorf("Send() = %s, %v", r.raw, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not complete")
	}

	remote.Close()
	select {
	case err := <-served:
		if !errors.Is(err, transport.ErrClosed) {
			t.Errorf("Serve() = %v, want transport.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if re := rejectReason(t, e.Err()); re.Reason != "transport-error" {
		t.Errorf("Err() reason = %q", re.Reason)
	}
}

func TestEngine_ServeShutdownOnContext(t *testing.T) {
	local, _ := transport.Pipe()
	e := New(local)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx) }()

	p, err := e.Call(context.Background(), "", "Debugger.resume", nil)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	<-p.Done()
	_, err = p.Result()
	if re := rejectReason(t, err); re.Reason != "shutdown" {
		t.Errorf("reason = %q", re.Reason)
	}
}
