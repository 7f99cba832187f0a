package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/ordr-go/internal/testutil"
)

type lockFunc func(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)

func (f lockFunc) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	return f(ctx, name, ttl)
}

func TestMonitor_PruneLocked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JournalRetention = time.Hour

	tests := []struct {
		name        string
		lockErr     error
		wantDeleted int64
		wantErr     bool
		wantPrune   bool
	}{
		{"acquired", nil, 3, false, true},
		{"held elsewhere", ErrLockNotAcquired, 0, false, false},
		{"redis down", errors.New("connection refused"), 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pruned := false
			released := false
			var gotName string
			var gotTTL time.Duration

			locker := lockFunc(func(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
				gotName, gotTTL = name, ttl
				if tt.lockErr != nil {
					return nil, tt.lockErr
				}
				return func(context.Context) error {
					released = true
					return nil
				}, nil
			})
			pruner := pruneFunc(func(context.Context, time.Time) (int64, error) {
				pruned = true
				return 3, nil
			})

			m, err := New(cfg, fixedCount(0), zaptest.NewLogger(t), WithPruner(pruner), WithLocker(locker))
			require.NoError(t, err)

			deleted, err := m.Prune(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDeleted, deleted)
			assert.Equal(t, tt.wantPrune, pruned)
			assert.Equal(t, tt.wantPrune, released)
			assert.Equal(t, "journal-prune", gotName)
			assert.Equal(t, cfg.PruneLockTTL, gotTTL)
		})
	}
}

func TestRedisLocker(t *testing.T) {
	client := testutil.NewTestRedisClient(t, testutil.DefaultTestConfig())
	ctx := context.Background()

	first := NewRedisLocker(client)
	second := NewRedisLocker(client)
	assert.NotEqual(t, first.Owner(), second.Owner())

	release, err := first.TryLock(ctx, "prune", time.Minute)
	require.NoError(t, err)

	_, err = second.TryLock(ctx, "prune", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	ttl, err := client.TTL(ctx, lockKeyPrefix+"prune").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	release, err = second.TryLock(ctx, "prune", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client := testutil.NewTestRedisClient(t, testutil.DefaultTestConfig())
	ctx := context.Background()

	locker := NewRedisLocker(client)
	release, err := locker.TryLock(ctx, "prune", time.Minute)
	require.NoError(t, err)

	// Simulate expiry followed by another owner taking over.
	require.NoError(t, client.Set(ctx, lockKeyPrefix+"prune", "someone-else", time.Minute).Err())
	require.NoError(t, release(ctx))

	val, err := client.Get(ctx, lockKeyPrefix+"prune").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
