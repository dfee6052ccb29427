// Package registry maintains the tree of live debugging sessions on one
// connection.
//
// The root session (id "") stands for the raw connection and always exists
// until the registry is torn down. Every other session hangs off a parent;
// destroying a session destroys its whole subtree.
package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
)

// RootID is the id of the implicit root session.
const RootID = ""

// DefaultTombstoneLimit is how many destroyed ids are remembered by default.
const DefaultTombstoneLimit = 1024

// Session is a snapshot of one node in the session tree.
type Session struct {
	ID        string
	TargetID  string
	ParentID  string
	Domains   []string
	CreatedAt time.Time
}

// IsRoot reports whether s is the root session.
func (s Session) IsRoot() bool {
	return s.ID == RootID
}

// TeardownFunc is called once for every destroyed session, after the
// registry has been mutated. cause is whatever the caller passed to the
// Destroy method.
type TeardownFunc func(s Session, cause error)

// Attribution says how a message bearing a session id should be handled.
type Attribution int

const (
	// AttributeLive means the id names a live session.
	AttributeLive Attribution = iota
	// AttributeRoot means the id was never seen; the message belongs to root.
	AttributeRoot
	// AttributeDropped means the id names a destroyed session.
	AttributeDropped
)

type node struct {
	id        string
	targetID  string
	parentID  string
	children  []string
	domains   map[string]struct{}
	createdAt time.Time
}

func (n *node) snapshot() Session {
	domains := make([]string, 0, len(n.domains))
	for d := range n.domains {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	return Session{
		ID:        n.id,
		TargetID:  n.targetID,
		ParentID:  n.parentID,
		Domains:   domains,
		CreatedAt: n.createdAt,
	}
}

// Registry is the session tree. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	byTarget map[string][]string
	closed   bool

	tombs     *queue.Queue
	tombCount map[string]int
	tombLimit int

	teardown []TeardownFunc
	logger   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithTeardown adds a hook run for every destroyed session.
func WithTeardown(fn TeardownFunc) Option {
	return func(r *Registry) {
		r.teardown = append(r.teardown, fn)
	}
}

// WithTombstoneLimit sets how many destroyed ids are remembered.
// Zero disables tombstones. Once an id is evicted it is indistinguishable
// from one never seen, so Attribute reports it as AttributeRoot and late
// traffic for it is delivered to the root session.
func WithTombstoneLimit(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.tombLimit = n
		}
	}
}

// New creates a registry holding only the root session.
func New(opts ...Option) *Registry {
	r := &Registry{
		nodes:     make(map[string]*node),
		byTarget:  make(map[string][]string),
		tombs:     queue.New(),
		tombCount: make(map[string]int),
		tombLimit: DefaultTombstoneLimit,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.nodes[RootID] = &node{
		id:        RootID,
		domains:   make(map[string]struct{}),
		createdAt: time.Now(),
	}
	return r
}

// Create inserts a session under parentID. It reports false and changes
// nothing when sessionID is empty or already live. An unknown parent is
// treated as root.
func (r *Registry) Create(sessionID, targetID, parentID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Session{}, false
	}
	if sessionID == RootID {
		r.logger.Warn().Str("target", targetID).Msg("ignoring attach without a session id")
		return Session{}, false
	}
	if existing, ok := r.nodes[sessionID]; ok {
		r.logger.Debug().
			Str("session", sessionID).
			Str("target", targetID).
			Msg("ignoring duplicate attach")
		return existing.snapshot(), false
	}

	parent, ok := r.nodes[parentID]
	if !ok {
		r.logger.Debug().
			Str("session", sessionID).
			Str("parent", parentID).
			Msg("attach names an unknown parent, using root")
		parent = r.nodes[RootID]
	}

	n := &node{
		id:        sessionID,
		targetID:  targetID,
		parentID:  parent.id,
		domains:   make(map[string]struct{}),
		createdAt: time.Now(),
	}
	r.nodes[sessionID] = n
	parent.children = append(parent.children, sessionID)
	if targetID != "" {
		r.byTarget[targetID] = append(r.byTarget[targetID], sessionID)
	}
	return n.snapshot(), true
}

// Destroy removes sessionID and all of its descendants, then runs the
// teardown hooks for each removed session in breadth-first order. An unknown
// id is a no-op. The root can only be removed by DestroyAll.
func (r *Registry) Destroy(sessionID string, cause error) []Session {
	if sessionID == RootID {
		r.logger.Warn().Msg("ignoring request to destroy the root session")
		return nil
	}

	r.mu.Lock()
	if _, ok := r.nodes[sessionID]; !ok {
		tombstoned := r.tombCount[sessionID] > 0
		r.mu.Unlock()
		r.logger.Debug().
			Str("session", sessionID).
			Bool("already_destroyed", tombstoned).
			Msg("ignoring detach of unknown session")
		return nil
	}
	removed := r.removeSubtreeLocked(sessionID)
	r.mu.Unlock()

	r.runTeardown(removed, cause)
	return removed
}

// DestroyTarget destroys every session attached to targetID.
func (r *Registry) DestroyTarget(targetID string, cause error) []Session {
	r.mu.Lock()
	ids := slices.Clone(r.byTarget[targetID])
	var removed []Session
	for _, id := range ids {
		if _, ok := r.nodes[id]; !ok {
			continue
		}
		removed = append(removed, r.removeSubtreeLocked(id)...)
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		r.logger.Debug().Str("target", targetID).Msg("no sessions attached to destroyed target")
		return nil
	}
	r.runTeardown(removed, cause)
	return removed
}

// DestroyAll removes every session including root. Afterwards the registry
// accepts no new sessions.
func (r *Registry) DestroyAll(cause error) []Session {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	var removed []Session
	for _, child := range slices.Clone(r.nodes[RootID].children) {
		removed = append(removed, r.removeSubtreeLocked(child)...)
	}
	root := r.nodes[RootID]
	delete(r.nodes, RootID)
	r.closed = true
	r.mu.Unlock()

	removed = append([]Session{root.snapshot()}, removed...)
	r.runTeardown(removed, cause)
	return removed
}

// removeSubtreeLocked detaches id from its parent and removes it and all
// descendants breadth-first.
func (r *Registry) removeSubtreeLocked(id string) []Session {
	start := r.nodes[id]
	if parent, ok := r.nodes[start.parentID]; ok {
		parent.children = slices.DeleteFunc(parent.children, func(c string) bool { return c == id })
	}

	var removed []Session
	frontier := []string{id}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		n, ok := r.nodes[cur]
		if !ok {
			continue
		}
		frontier = append(frontier, n.children...)
		delete(r.nodes, cur)
		r.unindexTargetLocked(n)
		r.tombstoneLocked(cur)
		removed = append(removed, n.snapshot())
	}
	return removed
}

func (r *Registry) unindexTargetLocked(n *node) {
	if n.targetID == "" {
		return
	}
	ids := slices.DeleteFunc(r.byTarget[n.targetID], func(s string) bool { return s == n.id })
	if len(ids) == 0 {
		delete(r.byTarget, n.targetID)
		return
	}
	r.byTarget[n.targetID] = ids
}

func (r *Registry) tombstoneLocked(id string) {
	if r.tombLimit == 0 {
		return
	}
	r.tombs.Add(id)
	r.tombCount[id]++
	for r.tombs.Length() > r.tombLimit {
		old := r.tombs.Remove().(string)
		if r.tombCount[old]--; r.tombCount[old] <= 0 {
			delete(r.tombCount, old)
		}
	}
}

func (r *Registry) runTeardown(removed []Session, cause error) {
	for _, s := range removed {
		for _, fn := range r.teardown {
			fn(s, cause)
		}
	}
}

// Live reports whether sessionID names a live session.
func (r *Registry) Live(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[sessionID]
	return ok
}

// Attribute decides which session a message bearing sessionID belongs to.
// Live ids map to themselves, ids that were never seen map to root, and
// recently destroyed ids report AttributeDropped.
func (r *Registry) Attribute(sessionID string) (string, Attribution) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.nodes[sessionID]; ok {
		return sessionID, AttributeLive
	}
	if r.closed {
		return "", AttributeDropped
	}
	if sessionID != RootID && r.tombCount[sessionID] > 0 {
		return sessionID, AttributeDropped
	}
	return RootID, AttributeRoot
}

// Lookup returns a snapshot of sessionID.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[sessionID]
	if !ok {
		return Session{}, false
	}
	return n.snapshot(), true
}

// Children returns the ids of the direct children of sessionID.
func (r *Registry) Children(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[sessionID]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

// SessionsForTarget returns the ids of sessions attached to targetID.
func (r *Registry) SessionsForTarget(targetID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byTarget[targetID])
}

// Sessions returns every live non-root session, parents before children.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, ok := r.nodes[RootID]
	if !ok {
		return nil
	}
	var out []Session
	frontier := slices.Clone(root.children)
	for len(frontier) > 0 {
		n := r.nodes[frontier[0]]
		frontier = frontier[1:]
		out = append(out, n.snapshot())
		frontier = append(frontier, n.children...)
	}
	return out
}

// Len returns the number of live non-root sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.nodes[RootID]; ok {
		return len(r.nodes) - 1
	}
	return len(r.nodes)
}

// MarkDomainEnabled records that domain has been enabled on sessionID.
// It reports false when the session is not live.
func (r *Registry) MarkDomainEnabled(sessionID, domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[sessionID]
	if !ok {
		return false
	}
	n.domains[domain] = struct{}{}
	return true
}

// MarkDomainDisabled forgets that domain was enabled on sessionID.
func (r *Registry) MarkDomainDisabled(sessionID, domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[sessionID]; ok {
		delete(n.domains, domain)
	}
}

// IsDomainEnabled reports whether domain was marked enabled on sessionID.
// The answer is a cache hint only.
func (r *Registry) IsDomainEnabled(sessionID, domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[sessionID]
	if !ok {
		return false
	}
	_, enabled := n.domains[domain]
	return enabled
}
