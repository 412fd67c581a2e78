package ticketlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return NewRedis(client, 5*time.Second), mr
}

func TestLockAndUnlock(t *testing.T) {
	locks, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := locks.Lock(ctx, "ticket1", "scanner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	locked, err := locks.IsLocked(ctx, "ticket1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, locks.Unlock(ctx, "ticket1", "scanner-a"))

	locked, err = locks.IsLocked(ctx, "ticket1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockFailsFastWhenHeld(t *testing.T) {
	locks, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := locks.Lock(ctx, "ticket1", "transfer-workflow")
	require.NoError(t, err)
	require.True(t, ok)

	// A concurrent scanner must get an immediate refusal, not a wait.
	ok, err = locks.Lock(ctx, "ticket1", "scanner-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnlockOnlyByHolder(t *testing.T) {
	locks, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := locks.Lock(ctx, "ticket1", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-holder unlock is a no-op.
	require.NoError(t, locks.Unlock(ctx, "ticket1", "holder-b"))

	locked, err := locks.IsLocked(ctx, "ticket1")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLockExpiresByTTL(t *testing.T) {
	locks, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := locks.Lock(ctx, "ticket1", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	ok, err = locks.Lock(ctx, "ticket1", "holder-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
