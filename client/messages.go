package client

import (
	"sync"

	"github.com/huddlenet/huddle/proto"
)

// message types as stored by the server
const (
	textMessage = 1
	fileMessage = 2
)

// RoomPreview is the last-message line shown in the room list.
type RoomPreview struct {
	Content string
	From    string
	SentAt  string
}

// MessageStream handles the message flow of the session. Sends are
// fire-and-forget; the message becomes visible when the server echoes it
// back as new_message, carrying its assigned id and timestamp. The
// transcript holds the active room's messages in server delivery order;
// previews are updated for every room regardless of which one is active.
type MessageStream struct {
	client Session
	rooms  *RoomController

	mu         sync.RWMutex
	transcript []proto.NewMessagePayload
	previews   map[string]RoomPreview
	onAppend   func(proto.NewMessagePayload)
}

func NewMessageStream(sess Session, rooms *RoomController) *MessageStream {
	s := &MessageStream{
		client:   sess,
		rooms:    rooms,
		previews: make(map[string]RoomPreview),
		onAppend: func(proto.NewMessagePayload) {},
	}
	sess.On(proto.NewMessageEvent, s.handleNewMessage)
	// the transcript belongs to the active room; switching rooms discards
	// it and the caller backfills over REST
	rooms.OnSelect(func(string) {
		s.mu.Lock()
		s.transcript = nil
		s.mu.Unlock()
	})
	return s
}

// OnAppend registers the callback fired when a message is appended to
// the active transcript. UIs use it to auto-scroll.
func (s *MessageStream) OnAppend(f func(proto.NewMessagePayload)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = f
}

// Send posts a message to a room. The send is not acked; failure
// surfaces only as the echo never arriving.
func (s *MessageStream) Send(roomID, content string, files []proto.File) error {
	msgType := textMessage
	if len(files) > 0 {
		msgType = fileMessage
	}
	payload := proto.SendMessagePayload{
		ChatID:  roomID,
		Content: content,
		Type:    msgType,
		Files:   files,
	}
	return s.client.Emit(proto.SendMessageEvent, payload)
}

func (s *MessageStream) handleNewMessage(e *proto.Event) {
	var msg proto.NewMessagePayload
	if err := e.DecodePayload(&msg); err != nil {
		return
	}

	active := s.rooms.Current()

	s.mu.Lock()
	s.previews[msg.ChatID] = RoomPreview{
		Content: msg.Content,
		From:    msg.SenderID,
		SentAt:  msg.CreatedAt,
	}
	appended := msg.ChatID == active && active != ""
	if appended {
		s.transcript = append(s.transcript, msg)
	}
	f := s.onAppend
	s.mu.Unlock()

	if appended {
		f(msg)
	}
}

// Transcript returns a copy of the active room's messages in arrival
// order.
func (s *MessageStream) Transcript() []proto.NewMessagePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]proto.NewMessagePayload, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Preview returns the room's last-message line.
func (s *MessageStream) Preview(roomID string) (RoomPreview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.previews[roomID]
	return p, ok
}
