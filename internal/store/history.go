package store

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// History roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryLimit bounds Recent when no limit is given.
const DefaultHistoryLimit = 50

// Turn is one stored message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendTurn stores one message under sessionKey.
func (s *Store) AppendTurn(ctx context.Context, sessionKey, role, content string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (session_key, role, content) VALUES (?, ?, ?)`,
		sessionKey, role, content,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to limit turns for sessionKey, oldest first.
func (s *Store) Recent(ctx context.Context, sessionKey string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM history
		WHERE session_key = ? ORDER BY id DESC LIMIT ?`,
		sessionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

// Forget deletes all turns for sessionKey.
func (s *Store) Forget(ctx context.Context, sessionKey string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE session_key = ?`, sessionKey)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return res.RowsAffected()
}
