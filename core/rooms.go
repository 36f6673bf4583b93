package core

import "sync"

type connKey struct {
	user   string
	connID int
}

// RoomRegistry tracks which room each connection is currently joined to.
// A connection is joined to at most one room: joining a new room
// implicitly leaves the previous one. The registry only scopes event
// delivery (typing indicators); it has no bearing on room membership,
// which is persisted by the ChatStore.
type RoomRegistry struct {
	mu sync.RWMutex
	// joined maps a connection to its current room.
	joined map[connKey]string
	// occupants maps a room to the connections joined to it.
	occupants map[string]map[connKey]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		joined:    make(map[connKey]string),
		occupants: make(map[string]map[connKey]struct{}),
	}
}

// Join scopes the connection to roomID and returns the room that was
// left in the process, if any.
func (r *RoomRegistry) Join(user string, connID int, roomID string) (left string) {
	key := connKey{user: user, connID: connID}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.joined[key]; ok {
		if prev == roomID {
			return ""
		}
		r.remove(key, prev)
		left = prev
	}

	r.joined[key] = roomID
	if r.occupants[roomID] == nil {
		r.occupants[roomID] = make(map[connKey]struct{})
	}
	r.occupants[roomID][key] = struct{}{}
	return left
}

// Leave clears the connection's scope. Leaving a room the connection is
// not joined to is a no-op.
func (r *RoomRegistry) Leave(user string, connID int, roomID string) {
	key := connKey{user: user, connID: connID}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.joined[key]; !ok || cur != roomID {
		return
	}
	delete(r.joined, key)
	r.remove(key, roomID)
}

// DropConn removes the connection from the registry entirely. Called on
// disconnect.
func (r *RoomRegistry) DropConn(user string, connID int) {
	key := connKey{user: user, connID: connID}
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID, ok := r.joined[key]; ok {
		delete(r.joined, key)
		r.remove(key, roomID)
	}
}

// JoinedRoom returns the room the connection is currently joined to.
func (r *RoomRegistry) JoinedRoom(user string, connID int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.joined[connKey{user: user, connID: connID}]
	return roomID, ok
}

// Occupants returns the connections currently joined to roomID. The skip
// user's connections are excluded, which is how typing events avoid
// echoing back to their sender.
func (r *RoomRegistry) Occupants(roomID, skipUser string) []ConnRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys, ok := r.occupants[roomID]
	if !ok {
		return nil
	}
	refs := make([]ConnRef, 0, len(keys))
	for key := range keys {
		if key.user == skipUser {
			continue
		}
		refs = append(refs, ConnRef{User: key.user, ConnID: key.connID})
	}
	return refs
}

// ConnRef identifies one connection of a user.
type ConnRef struct {
	User   string
	ConnID int
}

// remove must be called with the lock held.
func (r *RoomRegistry) remove(key connKey, roomID string) {
	if occ, ok := r.occupants[roomID]; ok {
		delete(occ, key)
		if len(occ) == 0 {
			delete(r.occupants, roomID)
		}
	}
}
