package flowstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "testdefs")
}

func TestRedisStore_Roundtrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, testDefinition("wf-1"), "user-1")
	require.NoError(t, err)

	got, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Definition.StartStepID)
	assert.Equal(t, "user-1", got.CreatedBy)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, "wf-1"))
	assert.ErrorIs(t, store.Delete(ctx, "wf-1"), ErrWorkflowNotFound)
}
