package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/adapter/memory"
	"github.com/smallbiznis/admin-guard/internal/config"
	"github.com/smallbiznis/admin-guard/internal/password"
)

func TestEnsureAdminCreatesWildcardAdmin(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := memory.NewIdentityStore()
	cfg := config.Config{AdminEmail: "Root@Example.com", AdminPassword: "s3cret!"}

	require.NoError(t, ensureAdmin(context.Background(), cfg, store, node, zap.NewNop()))
	ident, err := store.GetIdentityByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	require.Len(t, ident.Roles, 1)
	require.Equal(t, []string{"*"}, ident.Roles[0].Permissions)

	ok, err := password.Verify("s3cret!", ident.User.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	// second run is a no-op
	require.NoError(t, ensureAdmin(context.Background(), cfg, store, node, zap.NewNop()))
	again, err := store.GetIdentityByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	require.Equal(t, ident.User.ID, again.User.ID)
}

func TestEnsureAdminSkipsWithoutCredentials(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	require.NoError(t, ensureAdmin(context.Background(), config.Config{}, memory.NewIdentityStore(), node, nil))
}

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpired(context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestSessionSweeperLoop(t *testing.T) {
	cleaner := &countingCleaner{}
	s := NewSessionSweeper(cleaner, 5*time.Millisecond, zap.NewNop())
	s.Start()
	require.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSessionSweeperSweepErrors(t *testing.T) {
	s := NewSessionSweeper(&countingCleaner{err: errors.New("db down")}, 0, nil)
	require.Equal(t, 0, s.Sweep(context.Background()))
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
