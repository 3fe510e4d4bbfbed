package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisRunLocker(client, time.Minute)
}

func TestWithRunLockRuns(t *testing.T) {
	mr, locker := newTestLocker(t)

	ran := false
	err := locker.WithRunLock(context.Background(), "appointment-sync", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:run:appointment-sync"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released after the run.
	assert.False(t, mr.Exists("lock:run:appointment-sync"))
}

func TestWithRunLockHeldElsewhere(t *testing.T) {
	mr, locker := newTestLocker(t)
	require.NoError(t, mr.Set("lock:run:appointment-sync", "other-token"))

	err := locker.WithRunLock(context.Background(), "appointment-sync", func(ctx context.Context) error {
		t.Fatal("must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// A foreign token is never deleted.
	got, err := mr.Get("lock:run:appointment-sync")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestWithRunLockPropagatesError(t *testing.T) {
	mr, locker := newTestLocker(t)

	boom := errors.New("boom")
	err := locker.WithRunLock(context.Background(), "reminder-daily-run", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:run:reminder-daily-run"))
}

func TestWithRunLockIndependentNames(t *testing.T) {
	mr, locker := newTestLocker(t)
	require.NoError(t, mr.Set("lock:run:appointment-sync", "other-token"))

	err := locker.WithRunLock(context.Background(), "reminder-daily-run", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithRunLockSequentialReacquire(t *testing.T) {
	_, locker := newTestLocker(t)

	for i := 0; i < 2; i++ {
		err := locker.WithRunLock(context.Background(), "appointment-sync", func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err, "run %d", i)
	}
}
