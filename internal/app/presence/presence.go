package presence

import (
	"sort"
	"sync"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
)

type entry struct {
	client   contracts.Client
	rooms    map[string]struct{}
	typing   map[string]struct{}
	lastSeen time.Time
	closing  bool
}

// Tracker maps principals and conversations to live connections. Both indices
// are mutated under one lock so they never disagree.
type Tracker struct {
	mu          sync.RWMutex
	conns       map[string]*entry              // connection_id → entry
	byPrincipal map[string]map[string]struct{} // principal → connection_ids
	byRoom      map[string]map[string]struct{} // conversation_id → connection_ids
}

func NewTracker() *Tracker {
	return &Tracker{
		conns:       make(map[string]*entry),
		byPrincipal: make(map[string]map[string]struct{}),
		byRoom:      make(map[string]map[string]struct{}),
	}
}

var _ contracts.PresenceTracker = (*Tracker)(nil)

func (t *Tracker) Register(c contracts.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	connID := c.ConnectionID()
	t.conns[connID] = &entry{
		client:   c,
		rooms:    make(map[string]struct{}),
		typing:   make(map[string]struct{}),
		lastSeen: time.Now(),
	}
	add(t.byPrincipal, c.Principal(), connID)
}

// Unregister marks the connection closing so later joins are refused, and returns
// a snapshot of its rooms. The caller leaves each room, then calls Forget.
func (t *Tracker) Unregister(connID string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok || e.closing {
		return nil, false
	}
	e.closing = true
	e.typing = make(map[string]struct{})
	rooms := make([]string, 0, len(e.rooms))
	for r := range e.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms, true
}

// Forget drops every trace of the connection.
func (t *Tracker) Forget(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok {
		return
	}
	for r := range e.rooms {
		remove(t.byRoom, r, connID)
	}
	remove(t.byPrincipal, e.client.Principal(), connID)
	delete(t.conns, connID)
}

func (t *Tracker) JoinRoom(connID, convID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok || e.closing {
		return false, domain.ErrConnectionClosed
	}
	if _, in := e.rooms[convID]; in {
		return false, nil
	}
	e.rooms[convID] = struct{}{}
	add(t.byRoom, convID, connID)
	return true, nil
}

// LeaveRoom is a no-op for rooms the connection never joined.
func (t *Tracker) LeaveRoom(connID, convID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok {
		return false
	}
	if _, in := e.rooms[convID]; !in {
		return false
	}
	delete(e.rooms, convID)
	delete(e.typing, convID)
	remove(t.byRoom, convID, connID)
	return true
}

// SetTyping reports whether the typing state actually changed.
func (t *Tracker) SetTyping(connID, convID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok || e.closing {
		return false
	}
	if _, in := e.rooms[convID]; !in {
		return false
	}
	_, was := e.typing[convID]
	if was == typing {
		return false
	}
	if typing {
		e.typing[convID] = struct{}{}
	} else {
		delete(e.typing, convID)
	}
	e.lastSeen = time.Now()
	return true
}

func (t *Tracker) Touch(connID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.conns[connID]; ok {
		e.lastSeen = at
	}
}

func (t *Tracker) LastSeen(connID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.conns[connID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

func (t *Tracker) IsOnline(principal string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPrincipal[principal]) > 0
}

func (t *Tracker) InRoom(principal, convID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for connID := range t.byPrincipal[principal] {
		if _, in := t.conns[connID].rooms[convID]; in {
			return true
		}
	}
	return false
}

func (t *Tracker) RoomConnections(convID string) []contracts.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients(t.byRoom[convID])
}

// RoomPrincipals returns the distinct principals present in the room, sorted.
func (t *Tracker) RoomPrincipals(convID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{})
	for connID := range t.byRoom[convID] {
		seen[t.conns[connID].client.Principal()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) PrincipalConnections(principal string) []contracts.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients(t.byPrincipal[principal])
}

func (t *Tracker) Connection(connID string) (contracts.Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.conns[connID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

func (t *Tracker) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *Tracker) clients(ids map[string]struct{}) []contracts.Client {
	out := make([]contracts.Client, 0, len(ids))
	for connID := range ids {
		out = append(out, t.conns[connID].client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID() < out[j].ConnectionID() })
	return out
}

func add(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[connID] = struct{}{}
}

func remove(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}
