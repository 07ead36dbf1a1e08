package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, SessionKey("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, SessionKey("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryLock(ctx, SessionKey("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, SessionKey("1"), "wrong-token"))
	_, ok, _ = locker.TryLock(ctx, SessionKey("1"), time.Minute)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, SessionKey("1"), token))
	_, ok, _ = locker.TryLock(ctx, SessionKey("1"), time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.nowFn = func() time.Time { return now }
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	extended, err := locker.Extend(ctx, "k", token, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	now = now.Add(45 * time.Second)
	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestValidation(t *testing.T) {
	locker := NewLocalLocker()
	_, _, err := locker.TryLock(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	var redisLocker *RedisLocker
	_, _, err = redisLocker.TryLock(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, redisLocker.Release(context.Background(), "k", "t"))
}
