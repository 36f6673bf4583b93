package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLiteCallStore struct {
	db *sql.DB
}

func NewSQLiteCallStore(db *sql.DB) *SQLiteCallStore {
	return &SQLiteCallStore{db: db}
}

func (s *SQLiteCallStore) CreateCallRecord(ctx context.Context, input CallRecordInput) (*CallRecord, error) {
	if err := validate.Struct(&input); err != nil {
		return nil, ErrInvalidCallRecord
	}

	participants, err := json.Marshal(input.Participants)
	if err != nil {
		return nil, fmt.Errorf("marshal participants: %w", err)
	}

	record := &CallRecord{
		ID:           uuid.NewString(),
		CallType:     input.CallType,
		Participants: input.Participants,
		Duration:     input.Duration,
		Status:       input.Status,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO call_records (id, call_type, participants, duration, status, created_at)
		VALUES (@id, @call_type, @participants, @duration, @status, @created_at)`,
		sql.Named("id", record.ID),
		sql.Named("call_type", record.CallType),
		sql.Named("participants", string(participants)),
		sql.Named("duration", record.Duration),
		sql.Named("status", record.Status),
		sql.Named("created_at", record.CreatedAt.Format(sqliteTimeLayout)))
	if err != nil {
		return nil, fmt.Errorf("inserting call record: %w", err)
	}

	return record, nil
}

func (s *SQLiteCallStore) GetUserCallRecords(ctx context.Context, user string, offset, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	// participants is a JSON array of usernames; match the quoted element.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_type, participants, duration, status, created_at
		FROM call_records
		WHERE participants LIKE @participant
		ORDER BY created_at DESC LIMIT @limit OFFSET @offset`,
		sql.Named("participant", `%"`+user+`"%`),
		sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("querying call records: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var r CallRecord
		var participants, createdAt string
		if err := rows.Scan(&r.ID, &r.CallType, &participants, &r.Duration, &r.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning call record: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
