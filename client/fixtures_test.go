package client

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/huddlenet/huddle/proto"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

// fakeSession substitutes the transport for the feature controllers:
// emitted events are recorded and inbound events are dispatched directly
// to the registered handlers.
type fakeSession struct {
	t      *testing.T
	userID string

	mu       sync.Mutex
	handlers map[string]Handler
	emitted  []emittedEvent
	emitErr  error
}

type emittedEvent struct {
	Type    string
	Payload interface{}
}

func newFakeSession(t *testing.T, userID string) *fakeSession {
	return &fakeSession{
		t:        t,
		userID:   userID,
		handlers: make(map[string]Handler),
	}
}

func (s *fakeSession) On(eventType string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	s.handlers[eventType] = handler
}

func (s *fakeSession) Emit(eventType string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		return s.emitErr
	}
	s.emitted = append(s.emitted, emittedEvent{Type: eventType, Payload: payload})
	return nil
}

func (s *fakeSession) UserID() string {
	return s.userID
}

// dispatch delivers a server push to the registered handler.
func (s *fakeSession) dispatch(eventType string, payload interface{}) {
	e, err := proto.NewEvent(eventType, payload)
	require.Nil(s.t, err)

	s.mu.Lock()
	handler, ok := s.handlers[eventType]
	s.mu.Unlock()
	require.True(s.t, ok, "no handler for %s", eventType)
	handler(e)
}

func (s *fakeSession) emittedEvents() []emittedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emittedEvent, len(s.emitted))
	copy(out, s.emitted)
	return out
}

// emittedOf returns the emitted events of one type.
func (s *fakeSession) emittedOf(eventType string) []emittedEvent {
	var out []emittedEvent
	for _, e := range s.emittedEvents() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
