package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
)

const defaultPageSize = 100

// sqliteTimeLayout keeps the fractional seconds fixed width. RFC3339Nano
// trims trailing zeros, which makes lexicographic order diverge from
// chronological order for TEXT columns.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteChatStore struct {
	db        *sql.DB
	userStore UserStore
	sid       *shortid.Shortid
}

func NewSQLiteChatStore(db *sql.DB, userStore UserStore) *SQLiteChatStore {
	return &SQLiteChatStore{
		db:        db,
		userStore: userStore,
		sid:       shortid.MustNew(1, shortid.DefaultABC, 2342),
	}
}

func (s *SQLiteChatStore) CreateRoom(ctx context.Context, owner string, input RoomCreateInput) (string, error) {
	if err := validate.Struct(&input); err != nil {
		return "", ErrInvalidRoom
	}

	// deduplicate members and drop the owner from the member list
	seen := map[string]struct{}{owner: {}}
	members := make([]string, 0, len(input.Members))
	for _, m := range input.Members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}
	if len(members) == 0 {
		return "", ErrInvalidUser
	}
	if input.Type == DirectChat && len(members) != 1 {
		return "", ErrInvalidRoom
	}

	all := append([]string{owner}, members...)
	users, err := s.userStore.GetUsersByUsernames(ctx, all...)
	if err != nil {
		return "", fmt.Errorf("GetUsersByUsernames: %w", err)
	}
	if len(users) != len(all) {
		return "", ErrInvalidUser
	}

	if input.Type == DirectChat {
		exists, err := s.directRoomExists(ctx, owner, members[0])
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrConflictedRoom
		}
	}

	id, err := s.sid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rooms (id, type, name) VALUES (@id, @type, @name)",
		sql.Named("id", id), sql.Named("type", input.Type), sql.Named("name", input.Name)); err != nil {
		return "", fmt.Errorf("inserting room: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, username, role) VALUES (?, ?, ?)",
		id, owner, Owner); err != nil {
		return "", fmt.Errorf("inserting owner: %w", err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO room_members (room_id, username, role) VALUES (?, ?, ?)",
			id, m, Member); err != nil {
			return "", fmt.Errorf("inserting member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Commit: %w", err)
	}
	return id, nil
}

func (s *SQLiteChatStore) directRoomExists(ctx context.Context, a, b string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rooms r
		WHERE r.type = ?
		AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND username = ?)
		AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND username = ?)`,
		DirectChat, a, b)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("scanning direct room count: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteChatStore) AddRoomMember(ctx context.Context, roomID, user string, role MemberRole) error {
	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrInvalidRoom
	}
	if room.Type == DirectChat {
		return ErrDisallowedOperation
	}

	u, err := s.userStore.GetUserByUsername(ctx, user)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrInvalidUser
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_id, username, role) VALUES (?, ?, ?)",
		roomID, user, role)
	if err != nil {
		return fmt.Errorf("inserting member: %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) RemoveRoomMember(ctx context.Context, roomID, user string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = ? AND username = ?", roomID, user)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrInvalidMember
	}
	return nil
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, type, name FROM rooms WHERE id = ? LIMIT 1", roomID)

	room := new(Room)
	if err := row.Scan(&room.ID, &room.Type, &room.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning room: %w", err)
	}

	members, err := s.GetRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.Members = members
	return room, nil
}

func (s *SQLiteChatStore) GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, username, role FROM room_members WHERE room_id = ? ORDER BY username", roomID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []RoomMember
	for rows.Next() {
		var m RoomMember
		if err := rows.Scan(&m.RoomID, &m.Username, &m.Role); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteChatStore) IsRoomMember(ctx context.Context, roomID, user string) (bool, MemberRole, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT role FROM room_members WHERE room_id = ? AND username = ? LIMIT 1", roomID, user)

	var role MemberRole
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("scanning role: %w", err)
	}
	return true, role, nil
}

func (s *SQLiteChatStore) GetRoomSummaries(ctx context.Context, user string, offset, limit int) ([]RoomSummary, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.type, r.name,
			COALESCE(m.content, ''), COALESCE(m.sender, ''), COALESCE(m.created_at, '')
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages WHERE room_id = r.id ORDER BY id DESC LIMIT 1
		)
		WHERE rm.username = @user
		ORDER BY COALESCE(m.id, 0) DESC, r.name
		LIMIT @limit OFFSET @offset`,
		sql.Named("user", user), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var sum RoomSummary
		var lastAt string
		if err := rows.Scan(&sum.ID, &sum.Type, &sum.Name,
			&sum.LastMessage, &sum.LastMessageFrom, &lastAt); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if lastAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, lastAt); err == nil {
				sum.LastMessageAt = t
			}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		members, err := s.GetRoomMembers(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		usernames := make([]string, 0, len(members))
		for _, m := range members {
			usernames = append(usernames, m.Username)
		}
		summaries[i].Members = usernames
	}

	return summaries, nil
}

func (s *SQLiteChatStore) SendMessageToRoom(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	isMember, _, err := s.IsRoomMember(ctx, input.RoomID, input.Sender)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotRoomMember
	}

	files, err := json.Marshal(input.Files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	// created_at is clamped to the latest message of the room so the
	// per-room ordering invariant holds even if the clock steps back.
	// The latest message is the one with the highest id; id order is the
	// room order.
	createdAt := time.Now().UTC()
	var last string
	err = tx.QueryRowContext(ctx,
		"SELECT created_at FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT 1",
		input.RoomID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scanning last created_at: %w", err)
	}
	if last != "" {
		if t, err := time.Parse(time.RFC3339Nano, last); err == nil && t.After(createdAt) {
			createdAt = t
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender, type, content, files, created_at)
		VALUES (@room_id, @sender, @type, @content, @files, @created_at)`,
		sql.Named("room_id", input.RoomID),
		sql.Named("sender", input.Sender),
		sql.Named("type", input.Type),
		sql.Named("content", input.Content),
		sql.Named("files", string(files)),
		sql.Named("created_at", createdAt.Format(sqliteTimeLayout)))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	return &Message{
		ID:        int(id),
		Type:      input.Type,
		Content:   input.Content,
		Files:     input.Files,
		RoomID:    input.RoomID,
		Sender:    input.Sender,
		CreatedAt: createdAt,
	}, nil
}

func (s *SQLiteChatStore) GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, type, content, files, created_at
		FROM messages WHERE room_id = @room_id
		ORDER BY id DESC LIMIT @limit OFFSET @offset`,
		sql.Named("room_id", roomID), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var files, createdAt string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Type, &m.Content, &files, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if files != "" && files != "null" {
			if err := json.Unmarshal([]byte(files), &m.Files); err != nil {
				return nil, fmt.Errorf("unmarshal files: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteChatStore) GetContacts(ctx context.Context, user string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT rm2.username
		FROM room_members rm1
		JOIN room_members rm2 ON rm1.room_id = rm2.room_id
		WHERE rm1.username = ? AND rm2.username != rm1.username
		ORDER BY rm2.username`, user)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
