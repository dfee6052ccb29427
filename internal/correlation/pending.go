package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Pending is an outstanding request awaiting its response.
// It settles exactly once, either with a result or with an error.
type Pending struct {
	id        int64
	sessionID string
	method    string
	createdAt time.Time

	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

func newPending(id int64, sessionID, method string) *Pending {
	return &Pending{
		id:        id,
		sessionID: sessionID,
		method:    method,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the request id.
func (p *Pending) ID() int64 { return p.id }

// SessionID returns the session the request was sent on.
func (p *Pending) SessionID() string { return p.sessionID }

// Method returns the request method.
func (p *Pending) Method() string { return p.method }

// CreatedAt returns when the request was registered.
func (p *Pending) CreatedAt() time.Time { return p.createdAt }

// Done is closed once the request has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the settled outcome. It must only be called after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Wait blocks until the request settles or ctx ends.
// Ending ctx does not cancel the request.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle records the outcome. Only the first call wins.
func (p *Pending) settle(result json.RawMessage, err error) bool {
	settled := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
		settled = true
	})
	return settled
}
