package journal

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis，不可用时跳过
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping test")
		return nil
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestRedis_AppendTrimsToCapacity(t *testing.T) {
	client := setupTestRedis(t)
	if client == nil {
		return
	}
	s := NewRedis(client, "test:frames", 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, Record{ID: fmt.Sprint(i), Payload: "0A"}))
	}
	n, err := client.LLen(ctx, "test:frames").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "5", got[0].ID)
	assert.Equal(t, "4", got[1].ID)
	assert.Equal(t, "0A", got[0].Payload)
	assert.NoError(t, s.Ping(ctx))
	assert.Equal(t, BreakerClosed, s.Breaker().State())
}

func TestRedis_RecordRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	if client == nil {
		return
	}
	s := NewRedis(client, "test:frames", 10)
	ctx := context.Background()

	want := NewRecord(sampleEvent(0x42))
	require.NoError(t, s.Append(ctx, want))
	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.ID, got[0].ID)
	assert.Equal(t, want.Flags, got[0].Flags)
	assert.Equal(t, want.Raw, got[0].Raw)
	assert.True(t, want.Time.Equal(got[0].Time))
}
