package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSlotLocker(client, 5*time.Second), mr
}

func TestSlotKey(t *testing.T) {
	doctorID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := SlotKey(doctorID, "2024-06-03", "09:00-09:30")
	assert.Equal(t, "lock:slot:6ba7b810-9dad-11d1-80b4-00c04fd430c8:2024-06-03:09:00-09:30", key)
}

func TestWithSlotLockRunsCallback(t *testing.T) {
	locker, mr := newTestLocker(t)

	ran := false
	err := locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		ran = true
		// The key is held while the callback runs.
		assert.True(t, mr.Exists("lock:slot:test"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:slot:test"), "lock must be released after the callback")
}

func TestWithSlotLockContention(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		// Re-entry from a second caller while held fails fast.
		inner := locker.WithSlotLock(ctx, "lock:slot:test", func(ctx context.Context) error {
			t.Fatal("callback must not run without the lock")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLockReleaseAllowsReacquire(t *testing.T) {
	locker, _ := newTestLocker(t)

	require.NoError(t, locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		return nil
	}))

	calls := 0
	err := locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithSlotLockPropagatesCallbackError(t *testing.T) {
	locker, mr := newTestLocker(t)

	sentinel := assert.AnError
	err := locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, mr.Exists("lock:slot:test"), "lock must be released even when the callback fails")
}

func TestWithSlotLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)

	// Simulate an expired lock reclaimed by someone else: the key exists but
	// with a different token, so release leaves it alone.
	require.NoError(t, mr.Set("lock:slot:test", "someone-else"))

	err := locker.WithSlotLock(context.Background(), "lock:slot:test", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.True(t, mr.Exists("lock:slot:test"))

	got, gerr := mr.Get("lock:slot:test")
	require.NoError(t, gerr)
	assert.Equal(t, "someone-else", got)
}
