package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Injection is an instruction injected by the agent for the chat side to
// consider on its next reply. It stays pending until consumed.
type Injection struct {
	ID          string
	Role        string
	Instruction string
	Timestamp   string
	Consumed    bool
}

// InjectionStore is the SQLite-backed pending-instruction queue.
type InjectionStore struct {
	db *DB
}

// NewInjectionStore returns an injection store that uses the given DB.
func NewInjectionStore(db *DB) *InjectionStore {
	return &InjectionStore{db: db}
}

// Save persists a new unconsumed injection.
func (s *InjectionStore) Save(ctx context.Context, role, instruction string) (*Injection, error) {
	inj := &Injection{
		ID:          "inj_" + uuid.New().String(),
		Role:        role,
		Instruction: instruction,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO injections (id, role, instruction, ts, consumed) VALUES (?, ?, ?, ?, 0)`,
		inj.ID, inj.Role, inj.Instruction, inj.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("injection save: %w", err)
	}
	return inj, nil
}

// Pending returns all unconsumed injections in chronological order.
func (s *InjectionStore) Pending(ctx context.Context) ([]Injection, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT id, role, instruction, ts, consumed FROM injections WHERE consumed = 0 ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("injection pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var injections []Injection
	for rows.Next() {
		var inj Injection
		if err := rows.Scan(&inj.ID, &inj.Role, &inj.Instruction, &inj.Timestamp, &inj.Consumed); err != nil {
			return nil, fmt.Errorf("injection scan: %w", err)
		}
		injections = append(injections, inj)
	}
	return injections, rows.Err()
}

// MarkConsumed flags an injection as applied.
func (s *InjectionStore) MarkConsumed(ctx context.Context, id string) error {
	res, err := s.db.SQLDB().ExecContext(ctx,
		`UPDATE injections SET consumed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("injection consume: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("injection %q not found", id)
	}
	return nil
}
