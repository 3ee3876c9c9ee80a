package chat

import "sync"

// RoomRegistry tracks which sessions are members of which room. A room is
// simply a conversation id; state is process-local and rebuilt as clients
// rejoin after a restart.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room id -> session ids
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]map[string]struct{})}
}

// Join adds the session to the room. Joining twice is a no-op.
func (r *RoomRegistry) Join(room, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[sessionID] = struct{}{}
}

// Leave removes the session from the room; no-op if absent. Empty rooms are
// garbage-collected.
func (r *RoomRegistry) Leave(room, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, sessionID)
}

// PurgeSession removes the session from every room it joined. Called on
// disconnect; safe to call for an unknown session.
func (r *RoomRegistry) PurgeSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.rooms {
		r.leaveLocked(room, sessionID)
	}
}

// MembersOf returns a snapshot of the room's current members.
func (r *RoomRegistry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		members = append(members, id)
	}
	return members
}

func (r *RoomRegistry) leaveLocked(room, sessionID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
