package client

import (
	"sync"

	"github.com/huddlenet/huddle/proto"
)

// PresenceTracker keeps the last announced status of every user the
// server has reported on. A user it has never heard about is offline.
// The tracker is a pure projection of server pushes; nothing mutates it
// locally.
type PresenceTracker struct {
	mu       sync.RWMutex
	statuses map[string]string
	onChange func(user, status string)
}

func NewPresenceTracker(s Session) *PresenceTracker {
	t := &PresenceTracker{
		statuses: make(map[string]string),
		onChange: func(string, string) {},
	}
	s.On(proto.UserStatusEvent, t.handleUserStatus)
	return t
}

// OnChange registers a callback fired on every status update, duplicates
// included.
func (t *PresenceTracker) OnChange(f func(user, status string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = f
}

func (t *PresenceTracker) handleUserStatus(e *proto.Event) {
	var payload proto.UserStatusPayload
	if err := e.DecodePayload(&payload); err != nil {
		return
	}

	t.mu.Lock()
	t.statuses[payload.UserID] = payload.Status
	f := t.onChange
	t.mu.Unlock()

	f(payload.UserID, payload.Status)
}

func (t *PresenceTracker) IsOnline(user string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statuses[user] == proto.StatusOnline
}

func (t *PresenceTracker) Status(user string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[user]
	if !ok {
		return proto.StatusOffline
	}
	return status
}
