// Package proto defines the wire contract of the real-time layer: the
// event envelope and the payloads exchanged between client and server
// over the persistent websocket connection.
//
// Event naming conventions:
//   - client -> server commands and server -> client pushes share one
//     namespace; the direction is fixed per event name.
//   - payloads are JSON objects; the envelope carries the raw bytes so
//     each handler decodes only the payload it owns.
package proto

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	// AuthenticateEvent is the first event a client must send after the
	// connection is established. It carries the session token.
	AuthenticateEvent = "authenticate"
	// AuthenticatedEvent acknowledges a successful authenticate.
	AuthenticatedEvent = "authenticated"
	// UserStatusEvent is a server push announcing a presence change.
	UserStatusEvent = "user_status"
	// JoinChatEvent scopes the connection to a conversation.
	JoinChatEvent = "join_chat"
	// LeaveChatEvent clears the connection's conversation scope.
	LeaveChatEvent = "leave_chat"
	// SendMessageEvent is a client command to post a message to a room.
	SendMessageEvent = "send_message"
	// NewMessageEvent delivers a persisted message, including the echo of
	// the sender's own send.
	NewMessageEvent = "new_message"
	// TypingEvent carries a typing indicator in either direction.
	TypingEvent = "typing"
	// CallUserEvent is a client command to invite another user to a call.
	CallUserEvent = "call_user"
	// IncomingCallEvent delivers a call invite to the callee.
	IncomingCallEvent = "incoming_call"
	// CallResponseEvent carries the accept/reject decision in either
	// direction.
	CallResponseEvent = "call_response"
	// WebRTCSignalEvent relays SDP/ICE payloads between the two call
	// parties. The server forwards the signal unchanged.
	WebRTCSignalEvent = "webrtc_signal"
)

// Event is the envelope for every message on the wire.
// Sender and ConnID are dispatch metadata attached by the server side
// connection manager; they never travel over the wire.
type Event struct {
	Sender  string          `json:"-"`
	ConnID  int             `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Sender: %s, ConnID: %d, Type: %s, Payload.Size: %d}",
		e.Sender, e.ConnID, e.Type, len(e.Payload))
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewEvent marshals payload into an event envelope.
func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}
