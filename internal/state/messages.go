package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one entry in the chat transcript.
type Message struct {
	ID        string
	Role      string
	Text      string
	Timestamp string
}

// MessageStore is the SQLite-backed chat transcript.
type MessageStore struct {
	db *DB
}

// NewMessageStore returns a message store that uses the given DB.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Save appends a message. An empty timestamp is filled with the current
// time.
func (s *MessageStore) Save(ctx context.Context, role, text, timestamp string) (*Message, error) {
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	m := &Message{
		ID:        "msg_" + uuid.New().String(),
		Role:      role,
		Text:      text,
		Timestamp: timestamp,
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO messages (id, role, message, ts) VALUES (?, ?, ?, ?)`,
		m.ID, m.Role, m.Text, m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("message save: %w", err)
	}
	return m, nil
}

// Recent returns the newest limit messages in chronological order.
func (s *MessageStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT id, role, message, ts FROM (
			SELECT id, role, message, ts FROM messages ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("message recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("message scan: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
