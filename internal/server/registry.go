// Package server tracks room membership for the relay. The registry is the
// single piece of shared mutable state; every session's join/leave and every
// broadcast snapshot goes through its lock.
package server

import "sync"

// Registry maps room keys to the set of live connections joined to each room.
// It holds non-owning references only: sessions own their connections, and the
// registry never closes one. Rooms are created on first join and deleted the
// instant their member set empties; emptiness and deletion are atomic under
// the lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[*Client]struct{})}
}

// Join adds client to room, creating the room if it does not exist.
func (r *Registry) Join(room string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[client] = struct{}{}
}

// Leave removes client from room and deletes the room if it empties. It
// reports whether the client was present so callers can tear down exactly
// once; an absent room or client is a no-op, never an error, because
// disconnects race with registry mutation.
func (r *Registry) Leave(room string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[client]; !ok {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Members returns a snapshot of the room's current members. Unknown rooms
// yield an empty slice rather than an error.
func (r *Registry) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns a snapshot of the currently known room keys, order
// unspecified.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		out = append(out, key)
	}
	return out
}

// Create explicitly registers an empty room ahead of any join. It returns
// false if the key already exists.
func (r *Registry) Create(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room]; ok {
		return false
	}
	r.rooms[room] = make(map[*Client]struct{})
	return true
}
