package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/compresr/guard-gateway/internal/oracle"
)

// Subscription statuses that grant access.
var entitledStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// User is an entitlement row.
type User struct {
	Identity           string
	IsActive           bool
	SubscriptionStatus string
}

// IsEntitled implements the entitlement oracle. Unknown identities are not
// entitled; database errors are oracle failures.
func (s *Store) IsEntitled(ctx context.Context, identity string) (bool, error) {
	var (
		active int
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_active, subscription_status FROM users WHERE identity = ?`,
		normalizeIdentity(identity),
	).Scan(&active, &status)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, oracle.Unavailable(oracle.Entitlement, fmt.Errorf("query users: %w", err))
	}
	return active == 1 && entitledStatuses[strings.ToLower(status)], nil
}

// UpsertUser creates or updates a user row.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.Identity) == "" {
		return errors.New("identity is required")
	}
	active := 0
	if u.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (identity, is_active, subscription_status, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO UPDATE SET
			is_active = excluded.is_active,
			subscription_status = excluded.subscription_status,
			updated_at = CURRENT_TIMESTAMP`,
		normalizeIdentity(u.Identity), active, strings.ToLower(u.SubscriptionStatus),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE identity = ?`, normalizeIdentity(identity)); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
