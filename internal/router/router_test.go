package router

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/dshills/devwire/internal/wire"
)

func event(session, method string) *wire.Event {
	return &wire.Event{SessionID: session, Method: method, Params: json.RawMessage(`{}`)}
}

func TestRouter_DispatchExactMatch(t *testing.T) {
	r := New()
	var got []string
	r.On("S1", "Debugger.paused", func(ev *wire.Event) { got = append(got, "S1") })
	r.On("S2", "Debugger.paused", func(ev *wire.Event) { got = append(got, "S2") })
	r.On("S1", "Debugger.resumed", func(ev *wire.Event) { got = append(got, "resumed") })

	if n := r.Dispatch(event("S1", "Debugger.paused")); n != 1 {
		t.Errorf("Dispatch() = %d, want 1", n)
	}
	if !slices.Equal(got, []string{"S1"}) {
		t.Errorf("delivered to %v", got)
	}
}

func TestRouter_RegistrationOrder(t *testing.T) {
	r := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		r.On("", "Runtime.consoleAPICalled", func(*wire.Event) { order = append(order, i) })
	}
	r.Dispatch(event("", "Runtime.consoleAPICalled"))
	if !slices.Equal(order, []int{0, 1, 2, 3, 4}) {
		t.Errorf("order = %v", order)
	}
}

func TestRouter_EventOrderPreserved(t *testing.T) {
	r := New()
	var seen []string
	r.On("S1", "Network.dataReceived", func(ev *wire.Event) {
		var p struct {
			N string `json:"n"`
		}
		json.Unmarshal(ev.Params, &p)
		seen = append(seen, p.N)
	})
	for _, n := range []string{"E1", "E2", "E3"} {
		r.Dispatch(&wire.Event{SessionID: "S1", Method: "Network.dataReceived", Params: json.RawMessage(`{"n":"` + n + `"}`)})
	}
	if !slices.Equal(seen, []string{"E1", "E2", "E3"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestRouter_Wildcards(t *testing.T) {
	r := New()
	var got []string
	r.On(AnySession, AnyMethod, func(*wire.Event) { got = append(got, "any/any") })
	r.On(AnySession, "Debugger.paused", func(*wire.Event) { got = append(got, "any/paused") })
	r.On("S1", AnyMethod, func(*wire.Event) { got = append(got, "S1/any") })
	r.On("S1", "Debugger.paused", func(*wire.Event) { got = append(got, "S1/paused") })

	r.Dispatch(event("S1", "Debugger.paused"))
	want := []string{"S1/paused", "S1/any", "any/paused", "any/any"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	got = nil
	r.Dispatch(event("S2", "Runtime.executionContextCreated"))
	if !slices.Equal(got, []string{"any/any"}) {
		t.Errorf("other session delivered to %v", got)
	}
}

func TestRouter_WildcardEventNotDoubleDelivered(t *testing.T) {
	r := New()
	calls := 0
	r.On(AnySession, AnyMethod, func(*wire.Event) { calls++ })
	r.Dispatch(event(AnySession, "Foo.bar"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRouter_PanicIsolation(t *testing.T) {
	var panics []string
	r := New(WithPanicHandler(func(ev *wire.Event, id string, rec any, stack []byte) {
		panics = append(panics, ev.Method)
		if len(stack) == 0 {
			t.Error("empty stack")
		}
	}))

	var got []string
	r.On("S1", "Foo.bar", func(*wire.Event) { got = append(got, "first") })
	r.On("S1", "Foo.bar", func(*wire.Event) { panic("listener bug") })
	r.On("S1", "Foo.bar", func(*wire.Event) { got = append(got, "third") })

	if n := r.Dispatch(event("S1", "Foo.bar")); n != 3 {
		t.Errorf("Dispatch() = %d, want 3", n)
	}
	if !slices.Equal(got, []string{"first", "third"}) {
		t.Errorf("got = %v", got)
	}

	got = nil
	r.Dispatch(event("S1", "Foo.bar"))
	if !slices.Equal(got, []string{"first", "third"}) {
		t.Errorf("second dispatch got = %v", got)
	}
	if len(panics) != 2 {
		t.Errorf("panic handler calls = %d, want 2", len(panics))
	}
	if r.Stats().Panicked != 2 {
		t.Errorf("Stats().Panicked = %d", r.Stats().Panicked)
	}
}

func TestRouter_PanickingPanicHandler(t *testing.T) {
	r := New(WithPanicHandler(func(*wire.Event, string, any, []byte) { panic("handler bug") }))
	r.On("", "Foo.bar", func(*wire.Event) { panic("listener bug") })
	r.Dispatch(event("", "Foo.bar"))
}

func TestRouter_Unsubscribe(t *testing.T) {
	r := New()
	calls := 0
	off := r.On("S1", "Foo.bar", func(*wire.Event) { calls++ })
	r.Dispatch(event("S1", "Foo.bar"))
	off()
	off()
	r.Dispatch(event("S1", "Foo.bar"))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRouter_UnsubscribeDuringDispatch(t *testing.T) {
	r := New()
	var second func()
	secondCalls := 0
	r.On("S1", "Foo.bar", func(*wire.Event) { second() })
	second = r.On("S1", "Foo.bar", func(*wire.Event) { secondCalls++ })

	if n := r.Dispatch(event("S1", "Foo.bar")); n != 1 {
		t.Errorf("Dispatch() = %d, want 1", n)
	}
	if secondCalls != 0 {
		t.Error("listener removed mid-dispatch still ran")
	}
}

func TestRouter_SubscribeDuringDispatch(t *testing.T) {
	r := New()
	added := 0
	r.On("S1", "Foo.bar", func(*wire.Event) {
		r.On("S1", "Foo.bar", func(*wire.Event) { added++ })
	})
	r.Dispatch(event("S1", "Foo.bar"))
	if added != 0 {
		t.Error("listener added mid-dispatch ran for the same event")
	}
	r.Dispatch(event("S1", "Foo.bar"))
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
}

func TestRouter_RemoveAllForSession(t *testing.T) {
	r := New()
	calls := 0
	r.On("S1", "Foo.bar", func(*wire.Event) { calls++ })
	r.On("S1", AnyMethod, func(*wire.Event) { calls++ })
	r.On("S2", "Foo.bar", func(*wire.Event) {})
	r.On(AnySession, "Foo.bar", func(*wire.Event) {})

	if n := r.RemoveAllForSession("S1"); n != 2 {
		t.Errorf("RemoveAllForSession() = %d, want 2", n)
	}
	r.Dispatch(event("S1", "Foo.bar"))
	if calls != 0 {
		t.Errorf("removed listeners ran %d times", calls)
	}
	if r.LenSession("S2") != 1 || r.LenSession(AnySession) != 1 {
		t.Errorf("other listeners lost: Len=%d", r.Len())
	}
}

func TestRouter_RemoveAll(t *testing.T) {
	r := New()
	r.On("S1", "Foo.bar", func(*wire.Event) {})
	r.On(AnySession, AnyMethod, func(*wire.Event) {})
	if n := r.RemoveAll(); n != 2 {
		t.Errorf("RemoveAll() = %d, want 2", n)
	}
	if r.Dispatch(event("S1", "Foo.bar")) != 0 {
		t.Error("listeners ran after RemoveAll")
	}
}
