// Package correlation matches responses to the requests that produced them.
//
// The Table owns request id allocation for a whole connection. Ids come from
// one monotonic counter shared by every session, so two sessions multiplexed
// over the same connection can never collide.
package correlation

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/devwire/internal/wire"
)

// Table tracks outstanding requests. It is safe for concurrent use.
type Table struct {
	mu        sync.Mutex
	nextID    int64
	pending   map[int64]*Pending
	bySession map[string]map[int64]*Pending

	logger zerolog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// WithFirstID sets the first id Allocate returns. Defaults to 1.
func WithFirstID(id int64) Option {
	return func(t *Table) {
		t.nextID = id
	}
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		nextID:    1,
		pending:   make(map[int64]*Pending),
		bySession: make(map[string]map[int64]*Pending),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allocate returns the next request id. Ids are never reused for the
// lifetime of the table.
func (t *Table) Allocate() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// Register stores a pending request for id on sessionID.
func (t *Table) Register(id int64, sessionID, method string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return nil, ErrDuplicateID
	}

	p := newPending(id, sessionID, method)
	t.pending[id] = p
	scoped := t.bySession[sessionID]
	if scoped == nil {
		scoped = make(map[int64]*Pending)
		t.bySession[sessionID] = scoped
	}
	scoped[id] = p
	return p, nil
}

// Resolve settles the request matching resp. It reports false when no
// request with that id is outstanding on resp's session; such responses are
// discarded.
func (t *Table) Resolve(resp *wire.Response) bool {
	t.mu.Lock()
	p, ok := t.pending[resp.ID]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug().
			Int64("id", resp.ID).
			Str("session", resp.SessionID).
			Msg("discarding response with no pending request")
		return false
	}
	if p.sessionID != resp.SessionID {
		t.mu.Unlock()
		t.logger.Warn().
			Int64("id", resp.ID).
			Str("session", resp.SessionID).
			Str("expected_session", p.sessionID).
			Msg("discarding response from the wrong session")
		return false
	}
	t.removeLocked(p)
	t.mu.Unlock()

	if resp.Error != nil {
		p.settle(nil, resp.Error)
	} else {
		p.settle(resp.Result, nil)
	}
	return true
}

// RejectAll rejects every request scoped to sessionID with err.
// It does not touch descendant sessions. Returns the number rejected.
func (t *Table) RejectAll(sessionID string, err error) int {
	t.mu.Lock()
	scoped := t.bySession[sessionID]
	victims := make([]*Pending, 0, len(scoped))
	for _, p := range scoped {
		victims = append(victims, p)
	}
	for _, p := range victims {
		t.removeLocked(p)
	}
	t.mu.Unlock()

	for _, p := range victims {
		p.settle(nil, err)
	}
	return len(victims)
}

// RejectEverything rejects every outstanding request regardless of session.
func (t *Table) RejectEverything(err error) int {
	t.mu.Lock()
	victims := make([]*Pending, 0, len(t.pending))
	for _, p := range t.pending {
		victims = append(victims, p)
	}
	t.pending = make(map[int64]*Pending)
	t.bySession = make(map[string]map[int64]*Pending)
	t.mu.Unlock()

	for _, p := range victims {
		p.settle(nil, err)
	}
	return len(victims)
}

// Abandon forgets a request without settling it. A response that arrives
// later is discarded like any unmatched response.
func (t *Table) Abandon(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if ok {
		t.removeLocked(p)
	}
	return ok
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// LenSession returns the number of outstanding requests on sessionID.
func (t *Table) LenSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySession[sessionID])
}

func (t *Table) removeLocked(p *Pending) {
	delete(t.pending, p.id)
	if scoped := t.bySession[p.sessionID]; scoped != nil {
		delete(scoped, p.id)
		if len(scoped) == 0 {
			delete(t.bySession, p.sessionID)
		}
	}
}
