package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Membership records the room a connection completed a join for.
type Membership struct {
	Code     string
	Name     string
	JoinedAt time.Time
}

type conn struct {
	outbox   *Outbox
	member   *Membership
	lastSeen time.Time
}

// Registry is the set of live connections for this process.
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*conn           // connID → connection
	rooms  map[string]map[string]bool // room code → set of connIDs
	bufLen int
	now    func() time.Time
}

// New creates an empty Registry whose outboxes buffer bufferSize frames.
func New(bufferSize int) *Registry {
	return &Registry{
		conns:  make(map[string]*conn),
		rooms:  make(map[string]map[string]bool),
		bufLen: bufferSize,
		now:    time.Now,
	}
}

// Register adds a live connection and returns its outbox.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an error if id is already registered.
func (r *Registry) Register(id string) (*Outbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, fmt.Errorf("connection %q already registered", id)
	}
	c := &conn{outbox: NewOutbox(id, r.bufLen), lastSeen: r.now()}
	r.conns[id] = c
	return c.outbox, nil
}

// Unregister removes a connection, closes its outbox, and returns the
// membership it held, if any.
func (r *Registry) Unregister(id string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[id]
	if !exists {
		return Membership{}, false
	}
	member := c.member
	r.dropMembershipLocked(id, c)
	c.outbox.Close()
	delete(r.conns, id)
	if member == nil {
		return Membership{}, false
	}
	return *member, true
}

// IsLive reports whether id is a registered connection.
func (r *Registry) IsLive(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Join records that id completed a join of (code, name) and subscribes it to
// the room's broadcasts, replacing any previous membership.
//
// Postcondition: Returns an error if id is not live.
func (r *Registry) Join(id, code, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %q not found", id)
	}
	r.dropMembershipLocked(id, c)
	c.member = &Membership{Code: code, Name: name, JoinedAt: r.now()}
	if r.rooms[code] == nil {
		r.rooms[code] = make(map[string]bool)
	}
	r.rooms[code][id] = true
	return nil
}

// Leave clears id's membership and unsubscribes it from its room.
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		r.dropMembershipLocked(id, c)
	}
}

func (r *Registry) dropMembershipLocked(id string, c *conn) {
	if c.member == nil {
		return
	}
	if set, ok := r.rooms[c.member.Code]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.rooms, c.member.Code)
		}
	}
	c.member = nil
}

// Membership returns the room id has joined.
func (r *Registry) Membership(id string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok || c.member == nil {
		return Membership{}, false
	}
	return *c.member, true
}

// Members returns the connection ids subscribed to code, sorted.
func (r *Registry) Members(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[code]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Touch refreshes id's last-seen time.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.lastSeen = r.now()
	}
}

// LastSeen returns id's last-seen time.
func (r *Registry) LastSeen(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return time.Time{}, false
	}
	return c.lastSeen, true
}

// Send pushes a frame to one connection.
func (r *Registry) Send(id string, frame []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %q not found", id)
	}
	return c.outbox.Push(frame)
}

// Broadcast pushes a frame to every connection subscribed to code.
//
// Postcondition: Returns the number of connections that accepted the frame.
func (r *Registry) Broadcast(code string, frame []byte) int {
	r.mu.RLock()
	targets := make([]*Outbox, 0, len(r.rooms[code]))
	for id := range r.rooms[code] {
		if c, ok := r.conns[id]; ok {
			targets = append(targets, c.outbox)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, o := range targets {
		if o.Push(frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
