//go:build integration

package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopeops/scopeops-engine/pkg/testhelpers"
)

func TestRedisRunLock_Integration(t *testing.T) {
	client := testhelpers.GetRedisClient(t)
	lock := NewRedisRunLock(client)
	ctx := context.Background()
	key := "calculation:" + uuid.NewString()

	release, ok, err := lock.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, release(ctx))

	release, ok, err = lock.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
	require.NoError(t, release(ctx))
}

func TestRedisRunLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	client := testhelpers.GetRedisClient(t)
	lock := NewRedisRunLock(client)
	ctx := context.Background()
	key := "calculation:" + uuid.NewString()

	staleRelease, ok, err := lock.TryAcquire(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		exists, err := client.Exists(ctx, "scopeops:lock:"+key).Result()
		return err == nil && exists == 0
	}, 5*time.Second, 20*time.Millisecond)

	release, ok, err := lock.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleRelease(ctx))

	_, ok, err = lock.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired holder must not release the new holder's lock")

	require.NoError(t, release(ctx))
}
