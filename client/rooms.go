package client

import (
	"sync"

	"github.com/huddlenet/huddle/proto"
)

// RoomController scopes the session to at most one conversation at a
// time. Selecting a new room leaves the previous one first, so the
// server never sees the session in two rooms at once.
type RoomController struct {
	client Session

	mu       sync.Mutex
	current  string
	onSelect []func(roomID string)
}

func NewRoomController(s Session) *RoomController {
	return &RoomController{client: s}
}

// OnSelect registers a callback fired after the active room changed.
// An empty roomID means no room is selected.
func (r *RoomController) OnSelect(f func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSelect = append(r.onSelect, f)
}

// Select makes roomID the active room. Selecting the already active room
// is a no-op.
func (r *RoomController) Select(roomID string) error {
	r.mu.Lock()
	if r.current == roomID {
		r.mu.Unlock()
		return nil
	}
	prev := r.current
	r.mu.Unlock()

	if prev != "" {
		if err := r.client.Emit(proto.LeaveChatEvent, proto.LeaveChatPayload{ChatID: prev}); err != nil {
			return err
		}
	}
	if err := r.client.Emit(proto.JoinChatEvent, proto.JoinChatPayload{ChatID: roomID}); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = roomID
	callbacks := r.onSelect
	r.mu.Unlock()

	for _, f := range callbacks {
		f(roomID)
	}
	return nil
}

// Deselect leaves the active room.
func (r *RoomController) Deselect() error {
	r.mu.Lock()
	prev := r.current
	r.mu.Unlock()
	if prev == "" {
		return nil
	}

	if err := r.client.Emit(proto.LeaveChatEvent, proto.LeaveChatPayload{ChatID: prev}); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = ""
	callbacks := r.onSelect
	r.mu.Unlock()

	for _, f := range callbacks {
		f("")
	}
	return nil
}

// Current returns the active room, empty when none is selected.
func (r *RoomController) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
