package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientWithRedis(rdb, testLogger), mr
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "")

	lock, err := locker.Acquire(ctx, "merge:gene", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("fern:lock:merge:gene"))

	_, err = locker.Acquire(ctx, "merge:gene", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("fern:lock:merge:gene"))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
}

func TestLocker_ReleaseOnlyOwnLock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "")

	lock, err := locker.Acquire(ctx, "merge:gene", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mr.Set("fern:lock:merge:gene", "someone-else"))

	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
	assert.True(t, mr.Exists("fern:lock:merge:gene"))
}

func TestLocker_WithLockSerializes(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "")
	locker.Wait = 5 * time.Second

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "merge:gene", time.Minute, func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestLocker_WithLockTimesOut(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "")
	locker.Wait = 30 * time.Millisecond

	_, err := locker.Acquire(ctx, "merge:gene", time.Minute)
	require.NoError(t, err)

	called := false
	err = locker.WithLock(ctx, "merge:gene", time.Minute, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
}

func TestLocker_WithLockReturnsFnError(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, "")

	err := locker.WithLock(context.Background(), "merge:gene", time.Minute, func() error {
		return errors.New("cycle failed")
	})
	assert.EqualError(t, err, "cycle failed")
	assert.False(t, mr.Exists("fern:lock:merge:gene"))
}

func TestDeadLetterQueue(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	dlq := NewDeadLetterQueue(client, "")

	id, err := dlq.Add(ctx, DeadLetter{Topic: "entities", Offset: 7, Value: "garbage", Reason: "failed to parse message"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Offset)
	assert.Equal(t, "garbage", entries[0].Value)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}
