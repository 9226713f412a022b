package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIsEntitled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, User{Identity: "Paid@Example.com", IsActive: true, SubscriptionStatus: "Active"}))
	require.NoError(t, s.UpsertUser(ctx, User{Identity: "trial@example.com", IsActive: true, SubscriptionStatus: "trialing"}))
	require.NoError(t, s.UpsertUser(ctx, User{Identity: "lapsed@example.com", IsActive: true, SubscriptionStatus: "canceled"}))
	require.NoError(t, s.UpsertUser(ctx, User{Identity: "banned@example.com", IsActive: false, SubscriptionStatus: "active"}))

	tests := []struct {
		identity string
		want     bool
	}{
		{"paid@example.com", true},
		{"  PAID@example.com ", true},
		{"trial@example.com", true},
		{"lapsed@example.com", false},
		{"banned@example.com", false},
		{"unknown@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			got, err := s.IsEntitled(ctx, tt.identity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpsertUser_UpdatesAndDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, User{Identity: "u@x.io", IsActive: true, SubscriptionStatus: "active"}))
	require.NoError(t, s.UpsertUser(ctx, User{Identity: "u@x.io", IsActive: true, SubscriptionStatus: "past_due"}))

	ok, err := s.IsEntitled(ctx, "u@x.io")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteUser(ctx, "u@x.io"))
	assert.Error(t, s.UpsertUser(ctx, User{Identity: " "}))
}

func TestIsEntitled_ClosedStoreIsOracleFailure(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.IsEntitled(context.Background(), "a@b.co")
	assert.Error(t, err)
}

func TestHistory_ScopedBySessionKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "key-alice", RoleUser, "hello [EMAIL_ADDRESS]"))
	require.NoError(t, s.AppendTurn(ctx, "key-alice", RoleAssistant, "hi"))
	require.NoError(t, s.AppendTurn(ctx, "key-bob", RoleUser, "other"))

	turns, err := s.Recent(ctx, "key-alice", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "hello [EMAIL_ADDRESS]", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.False(t, turns[0].CreatedAt.IsZero())

	bob, err := s.Recent(ctx, "key-bob", 10)
	require.NoError(t, err)
	require.Len(t, bob, 1)

	n, err := s.Forget(ctx, "key-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Error(t, s.AppendTurn(ctx, "", RoleUser, "x"))
}

func TestHistory_RecentKeepsNewestInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTurn(ctx, "k", RoleUser, fmt.Sprintf("m%d", i)))
	}

	turns, err := s.Recent(ctx, "k", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "m2", turns[0].Content)
	assert.Equal(t, "m4", turns[2].Content)
}
