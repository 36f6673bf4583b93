package client

import (
	"sort"
	"sync"
	"time"

	"github.com/huddlenet/huddle/proto"
)

const (
	// silence after the last keystroke before the stop indicator is sent
	typingDebounce = 2 * time.Second
	// how long a remote typing flag lives without a refresh
	typingExpiry = 3 * time.Second
)

// TypingIndicator drives both directions of the typing protocol. Locally
// it turns keystrokes into at most one start indicator and a debounced
// stop; remotely it keeps per-user flags that expire on their own, so a
// peer that vanishes mid-word never leaves a stuck indicator.
type TypingIndicator struct {
	client Session

	debounce time.Duration
	expiry   time.Duration

	mu sync.Mutex
	// composing maps roomID to the local debounce timer while the user is
	// typing in that room.
	composing map[string]*time.Timer
	// remote maps roomID to the users currently typing there, each with
	// its expiry timer.
	remote map[string]map[string]*time.Timer

	onChange func(roomID string)
}

type TypingOption func(*TypingIndicator)

// WithTypingDurations overrides the debounce and expiry windows. Tests
// use it to keep timer-driven assertions fast.
func WithTypingDurations(debounce, expiry time.Duration) TypingOption {
	return func(t *TypingIndicator) {
		t.debounce = debounce
		t.expiry = expiry
	}
}

func NewTypingIndicator(s Session, opts ...TypingOption) *TypingIndicator {
	t := &TypingIndicator{
		client:    s,
		debounce:  typingDebounce,
		expiry:    typingExpiry,
		composing: make(map[string]*time.Timer),
		remote:    make(map[string]map[string]*time.Timer),
		onChange:  func(string) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	s.On(proto.TypingEvent, t.handleTyping)
	return t
}

// OnChange registers a callback fired whenever the set of remote typists
// in a room changes.
func (t *TypingIndicator) OnChange(f func(roomID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = f
}

// Keystroke reports local typing activity. The first keystroke emits the
// start indicator; further keystrokes only push the stop out.
func (t *TypingIndicator) Keystroke(roomID string) {
	t.mu.Lock()
	timer, composing := t.composing[roomID]
	if composing {
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.composing[roomID] = time.AfterFunc(t.debounce, func() {
		t.Stop(roomID)
	})
	t.mu.Unlock()

	t.client.Emit(proto.TypingEvent, proto.TypingPayload{ChatID: roomID, IsTyping: true})
}

// Stop ends local composing immediately. Called on send and by the
// debounce timer.
func (t *TypingIndicator) Stop(roomID string) {
	t.mu.Lock()
	timer, composing := t.composing[roomID]
	if !composing {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.composing, roomID)
	t.mu.Unlock()

	t.client.Emit(proto.TypingEvent, proto.TypingPayload{ChatID: roomID, IsTyping: false})
}

func (t *TypingIndicator) handleTyping(e *proto.Event) {
	var payload proto.TypingPayload
	if err := e.DecodePayload(&payload); err != nil {
		return
	}

	if payload.IsTyping {
		t.setRemote(payload.ChatID, payload.UserID)
	} else {
		t.clearRemote(payload.ChatID, payload.UserID)
	}
}

func (t *TypingIndicator) setRemote(roomID, user string) {
	t.mu.Lock()
	users, ok := t.remote[roomID]
	if !ok {
		users = make(map[string]*time.Timer)
		t.remote[roomID] = users
	}
	if timer, ok := users[user]; ok {
		timer.Reset(t.expiry)
		t.mu.Unlock()
		return
	}
	users[user] = time.AfterFunc(t.expiry, func() {
		t.clearRemote(roomID, user)
	})
	f := t.onChange
	t.mu.Unlock()

	f(roomID)
}

func (t *TypingIndicator) clearRemote(roomID, user string) {
	t.mu.Lock()
	users, ok := t.remote[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer, ok := users[user]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(users, user)
	if len(users) == 0 {
		delete(t.remote, roomID)
	}
	f := t.onChange
	t.mu.Unlock()

	f(roomID)
}

// Typists returns the users currently typing in the room, sorted.
func (t *TypingIndicator) Typists(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.remote[roomID]
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Describe renders the indicator line for a room.
func (t *TypingIndicator) Describe(roomID string) string {
	typists := t.Typists(roomID)
	switch len(typists) {
	case 0:
		return ""
	case 1:
		return typists[0] + " is typing..."
	default:
		return "several people are typing..."
	}
}
