package proto

import "encoding/json"

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type JoinChatPayload struct {
	ChatID string `json:"chat_id"`
}

type LeaveChatPayload struct {
	ChatID string `json:"chat_id"`
}

// File describes an uploaded attachment as returned by the file upload
// endpoint and carried on messages.
type File struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Category string `json:"category"`
	MimeType string `json:"mime_type"`
}

type SendMessagePayload struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	Type    int    `json:"type"`
	Files   []File `json:"files,omitempty"`
}

// NewMessagePayload is the persisted message the server delivers to all
// room members, the sender included.
type NewMessagePayload struct {
	ID        int    `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Type      int    `json:"type"`
	Files     []File `json:"files,omitempty"`
	CreatedAt string `json:"created_at"`
}

type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

const (
	CallTypeVoice = "voice"
	CallTypeVideo = "video"
)

type CallUserPayload struct {
	TargetUserID string `json:"target_user_id"`
	CallType     string `json:"call_type"`
}

type IncomingCallPayload struct {
	FromUser string `json:"from_user"`
	CallType string `json:"call_type"`
}

// CallResponsePayload is sent by the callee with TargetUserID set to the
// caller, and delivered to the caller with FromUser set to the callee.
type CallResponsePayload struct {
	TargetUserID string `json:"target_user_id,omitempty"`
	FromUser     string `json:"from_user,omitempty"`
	Accepted     bool   `json:"accepted"`
}

// WebRTCSignalPayload relays connection-setup metadata between the call
// parties. Signal is forwarded unchanged; the endpoints interpret it
// (SDP offers/answers, ICE candidates and the in-band hangup marker).
type WebRTCSignalPayload struct {
	TargetUserID string          `json:"target_user_id,omitempty"`
	FromUser     string          `json:"from_user,omitempty"`
	Signal       json.RawMessage `json:"signal"`
}
