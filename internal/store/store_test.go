package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewFromClient(client)

	return s, mr
}

func TestPing(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestZAddAndZPopMin_FIFOOrder(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-a", 1))
	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-b", 2))

	member, ok, err := s.ZPopMin(ctx, "queue:waiting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-a", member)

	member, ok, err = s.ZPopMin(ctx, "queue:waiting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-b", member)

	_, ok, err = s.ZPopMin(ctx, "queue:waiting")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZRem(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-a", 1))

	removed, err := s.ZRem(ctx, "queue:waiting", "user-a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.ZRem(ctx, "queue:waiting", "user-a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestZScore(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	present, err := s.ZScore(ctx, "queue:waiting", "user-a")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-a", 1))
	present, err = s.ZScore(ctx, "queue:waiting", "user-a")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestSetWithTTLAndGet(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "room:data:room-1", `{"id":"room-1"}`, time.Hour))

	val, ok, err := s.Get(ctx, "room:data:room-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":"room-1"}`, val)

	_, ok, err = s.Get(ctx, "room:data:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDel(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "user:room:user-a", "room-1", time.Hour))
	require.NoError(t, s.Del(ctx, "user:room:user-a"))

	_, ok, err := s.Get(ctx, "user:room:user-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSAddSRemSCard(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SAdd(ctx, "rooms:active", "room-1"))
	require.NoError(t, s.SAdd(ctx, "rooms:active", "room-2"))

	count, err := s.SCard(ctx, "rooms:active")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, s.SRem(ctx, "rooms:active", "room-1"))
	count, err = s.SCard(ctx, "rooms:active")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHIncrByAndHGetAll(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.HIncrBy(ctx, "stats:global", "totalRooms", 1))
	require.NoError(t, s.HIncrBy(ctx, "stats:global", "totalRooms", 1))

	fields, err := s.HGetAll(ctx, "stats:global")
	require.NoError(t, err)
	assert.Equal(t, "2", fields["totalRooms"])
}

func TestZCard(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-a", 1))
	require.NoError(t, s.ZAdd(ctx, "queue:waiting", "user-b", 2))

	count, err := s.ZCard(ctx, "queue:waiting")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestOperations_DegradeGracefullyWhenStoreDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	defer s.Close()

	ctx := context.Background()
	err := s.ZAdd(ctx, "queue:waiting", "user-a", 1)
	assert.Error(t, err)
}
