package redis_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Rrens/ai-session-manager/internal/config"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/repository/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := redis.NewClient(config.RedisConfig{Host: mr.Host(), Port: port})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func TestSnapshotStore(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := redis.NewSnapshotStore(client, time.Hour)
	ctx := context.Background()

	t.Run("missing slot", func(t *testing.T) {
		snap, err := store.Load(ctx, "tab-1")
		assert.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("save and load", func(t *testing.T) {
		in := &domain.SessionSnapshot{
			Session: domain.Session{
				ID:    uuid.New(),
				Model: "gemma",
				Messages: []domain.ChatMessage{
					{ID: "m1", Role: domain.RoleUser, Content: "hi"},
				},
			},
			SealedCredential: "sealed",
		}
		require.NoError(t, store.Save(ctx, "tab-1", in))
		assert.True(t, mr.Exists("snapshot:tab-1"))
		assert.Equal(t, time.Hour, mr.TTL("snapshot:tab-1"))

		out, err := store.Load(ctx, "tab-1")
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, in.Session.ID, out.Session.ID)
		assert.Equal(t, "sealed", out.SealedCredential)
		assert.Equal(t, in.Session.Messages, out.Session.Messages)
	})

	t.Run("expires", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "tab-2", &domain.SessionSnapshot{}))
		mr.FastForward(2 * time.Hour)

		snap, err := store.Load(ctx, "tab-2")
		assert.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "tab-3", &domain.SessionSnapshot{}))
		require.NoError(t, store.Delete(ctx, "tab-3"))
		assert.False(t, mr.Exists("snapshot:tab-3"))
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	_, client := setupMiniredis(t)
	limiter := redis.NewRateLimiter(client, 2, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "session-a")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, reset, err := limiter.Allow(ctx, "session-a")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.True(t, reset.After(time.Now()))

	allowed, _, _, err = limiter.Allow(ctx, "session-b")
	require.NoError(t, err)
	assert.True(t, allowed)
}
