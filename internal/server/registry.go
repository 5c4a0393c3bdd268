// Package server tracks room membership for the relay. The Registry is pure
// in-memory bookkeeping with no network state; the hub serializes all access.
package server

// Registry maps room names to the set of member connection IDs. It is the
// sole source of truth for membership and counts. A room with zero members
// is deleted rather than retained, so the table is bounded by active rooms.
//
// Registry is not safe for concurrent use on its own; the hub guards it.
type Registry struct {
	rooms map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]struct{})}
}

// Join adds the connection to the room, creating the room entry if absent.
// Joining a room the connection is already in is a no-op.
func (r *Registry) Join(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes the connection from the room and deletes the room entry once
// it empties. Leaving a room the connection is not in is a no-op.
func (r *Registry) Leave(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MemberCount returns the exact live membership size of the room,
// or 0 for a room that does not exist.
func (r *Registry) MemberCount(room string) int {
	return len(r.rooms[room])
}

// Members returns a snapshot of the connection IDs in the room.
func (r *Registry) Members(room string) []string {
	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}
