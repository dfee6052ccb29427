// Package typed layers compile-time checked signatures over the engine's
// string keyed methods and events.
//
// A Method or Event value pairs a wire name with Go payload types:
//
//	result, err := typed.Call(ctx, eng, sid, typed.RuntimeEvaluate, typed.EvaluateParams{Expression: "1+1"})
//
// The engine itself never sees these types.
package typed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/devwire/internal/router"
	"github.com/dshills/devwire/internal/wire"
)

// Caller sends a command and waits for its raw result.
type Caller interface {
	Send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error)
}

// Subscriber registers raw event listeners.
type Subscriber interface {
	On(sessionID, method string, fn router.Listener) (func(), error)
}

// Empty is the payload of commands and events that carry nothing.
type Empty struct{}

// Method describes a command taking P and returning R.
type Method[P, R any] struct {
	Name string
}

// Event describes a notification carrying P.
type Event[P any] struct {
	Name string
}

// Call sends m with params on sessionID and decodes the result.
func Call[P, R any](ctx context.Context, c Caller, sessionID string, m Method[P, R], params P) (R, error) {
	var zero R
	raw, err := c.Send(ctx, sessionID, m.Name, params)
	if err != nil {
		return zero, err
	}
	var out R
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode %s result: %w", m.Name, err)
	}
	return out, nil
}

// On registers fn for ev on sessionID. Events whose params do not decode
// into P are skipped.
func On[P any](s Subscriber, sessionID string, ev Event[P], fn func(sessionID string, params P)) (func(), error) {
	return s.On(sessionID, ev.Name, func(e *wire.Event) {
		var p P
		if len(e.Params) > 0 {
			if err := json.Unmarshal(e.Params, &p); err != nil {
				return
			}
		}
		fn(e.SessionID, p)
	})
}
