package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRoundTripWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	st := NewRedisStore(client, time.Hour)
	ctx := context.Background()
	rec := finishedRecord()

	require.NoError(t, st.SaveRun(ctx, rec))
	assert.True(t, mr.Exists("pilot:run:"+rec.RunID))
	assert.Equal(t, time.Hour, mr.TTL("pilot:run:"+rec.RunID))

	got, ok, err := st.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Result.Leads, got.Result.Leads)

	mr.FastForward(2 * time.Hour)
	_, ok, err = st.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("pilot:run:bad", "{not json"))

	_, _, err := NewRedisStore(client, 0).GetRun(context.Background(), "bad")
	assert.ErrorContains(t, err, "decode run bad")
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	repo, closeFn, err := Open(ctx, config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, repo)
	require.NoError(t, closeFn())

	repo, closeFn, err = Open(ctx, config.StorageConfig{Backend: "redis", Redis: config.RedisConfig{Host: mr.Host(), Port: mr.Port()}})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, repo)
	require.NoError(t, closeFn())

	_, _, err = Open(ctx, config.StorageConfig{Backend: "sqlite"})
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore(0)
	ctx := context.Background()
	_, ok, err := st.GetRun(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SaveRun(ctx, core.RunRecord{RunID: "x", Status: core.StateFailed, Reason: "planning failed"}))
	got, ok, _ := st.GetRun(ctx, "x")
	assert.True(t, ok)
	assert.Equal(t, "planning failed", got.Reason)
}

func TestMemoryStoreExpiresFinishedRuns(t *testing.T) {
	st := NewMemoryStore(30 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, core.RunRecord{RunID: "live", Status: core.StateDispatching}))
	require.NoError(t, st.SaveRun(ctx, core.RunRecord{RunID: "done", Status: core.StateDone}))

	assert.Eventually(t, func() bool {
		_, ok, _ := st.GetRun(ctx, "done")
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok, _ := st.GetRun(ctx, "live")
	assert.True(t, ok, "unfinished runs do not expire")
}
