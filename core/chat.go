package core

import (
	"context"
	"errors"
	"time"

	"github.com/huddlenet/huddle/proto"
)

const (
	// DirectChat is a conversation between exactly two users. Only one
	// direct room can exist between a given pair.
	DirectChat ChatType = iota
	// GroupChat is a conversation with two or more members.
	GroupChat
)

const (
	_ MessageType = iota
	// TextMessage indicates the content is a UTF-8 string.
	TextMessage
	// FileMessage indicates the message carries attachments; content may
	// be an optional caption.
	FileMessage
)

// ChatType represents the type of a conversation room.
type ChatType = int

// MessageType determines how message content should be interpreted.
type MessageType = int

type MemberRole string

const (
	Owner  MemberRole = "owner"
	Member MemberRole = "member"
)

// RoomMember is a user's membership in a room.
type RoomMember struct {
	Role     MemberRole `json:"role"`
	Username string     `json:"username"`
	RoomID   string     `json:"room_id"`
}

// Room is a conversation scope. Clients hold a read-only projection of
// it; membership changes go through the store.
type Room struct {
	ID      string       `json:"id"`
	Type    ChatType     `json:"type"`
	Name    string       `json:"name"`
	Members []RoomMember `json:"members"`
}

// RoomSummary is the room-list projection: the room plus its last
// message, ordered by recency.
type RoomSummary struct {
	ID              string    `json:"id"`
	Type            ChatType  `json:"type"`
	Name            string    `json:"name"`
	Members         []string  `json:"members"`
	LastMessage     string    `json:"last_message"`
	LastMessageFrom string    `json:"last_message_from"`
	LastMessageAt   time.Time `json:"last_message_at"`
}

// Message is a chat message. Messages are append-only per room and
// created_at is non-decreasing in the order the server assigns ids.
type Message struct {
	ID        int          `json:"id"`
	Type      MessageType  `json:"type"`
	Content   string       `json:"content"`
	Files     []proto.File `json:"files,omitempty"`
	RoomID    string       `json:"room_id"`
	Sender    string       `json:"sender"`
	CreatedAt time.Time    `json:"created_at"`
}

var (
	// ErrInvalidUser is returned when a user is not found or is invalid.
	ErrInvalidUser = errors.New("invalid user")
	// ErrConflictedRoom is returned when a direct room already exists
	// between two users.
	ErrConflictedRoom = errors.New("chat already exists")
	// ErrInvalidRoom is returned when a room is not found.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidMessageType is returned when the message type is not
	// supported.
	ErrInvalidMessageType = errors.New("invalid message type")
	// ErrNotRoomMember is returned when the sender does not belong to the
	// target room.
	ErrNotRoomMember       = errors.New("not a room member")
	ErrDisallowedOperation = errors.New("disallowed operation")
	ErrInvalidMember       = errors.New("invalid member")
)

// MessageCreateInput is the input for persisting a message.
type MessageCreateInput struct {
	Type    MessageType  `json:"type" validate:"required"`
	Content string       `json:"content"`
	Files   []proto.File `json:"files"`
	Sender  string       `json:"sender" validate:"required"`
	RoomID  string       `json:"room_id" validate:"required"`
}

// Validate checks the structural validity of the input. A text message
// must carry content; a file message must carry at least one file.
func (m *MessageCreateInput) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	switch m.Type {
	case TextMessage:
		if m.Content == "" {
			return ErrInvalidMessage
		}
	case FileMessage:
		if len(m.Files) == 0 {
			return ErrInvalidMessage
		}
	default:
		return ErrInvalidMessageType
	}
	return nil
}

type RoomCreateInput struct {
	Type ChatType `json:"type" validate:"oneof=0 1"`
	Name string   `json:"name"`
	// Members are the initial members besides the owner.
	Members []string `json:"members" validate:"required,min=1"`
}

type ChatStore interface {
	// CreateRoom creates a room owned by owner with the given members.
	// A direct room requires exactly one other member and fails with
	// ErrConflictedRoom if one already exists for the pair. Unknown
	// members fail with ErrInvalidUser.
	CreateRoom(ctx context.Context, owner string, input RoomCreateInput) (string, error)

	AddRoomMember(ctx context.Context, roomID, user string, role MemberRole) error

	RemoveRoomMember(ctx context.Context, roomID, user string) error

	// GetRoomByID returns the room or nil when not found.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// GetRoomSummaries returns the user's room list ordered by last
	// message recency. Limit defaults to 100 when zero.
	GetRoomSummaries(ctx context.Context, user string, offset, limit int) ([]RoomSummary, error)

	// SendMessageToRoom validates and persists a message, assigning its
	// id and created_at. created_at never decreases within a room, so
	// delivery order matches persistence order.
	SendMessageToRoom(ctx context.Context, input MessageCreateInput) (*Message, error)

	// GetRoomMessages returns messages in descending created_at order for
	// history backfill. Limit defaults to 100 when zero.
	GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, error)

	// IsRoomMember reports membership and the member's role.
	IsRoomMember(ctx context.Context, roomID, user string) (bool, MemberRole, error)

	// GetRoomMembers returns the members of a room, nil when the room is
	// unknown.
	GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)

	// GetContacts returns the users that share at least one room with the
	// given user. Presence changes are pushed to contacts.
	GetContacts(ctx context.Context, user string) ([]string, error)
}
