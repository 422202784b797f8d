package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	l, err := New("5-M", "5-M", rc)
	require.NoError(t, err)

	return l, mr
}

func TestNew_MemoryFallback(t *testing.T) {
	l, err := New("5-M", "5-M", nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNew_InvalidRate(t *testing.T) {
	_, err := New("not-a-rate", "5-M", nil)
	assert.Error(t, err)
}

func TestCheckWebSocketIP(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.True(t, l.CheckWebSocketIP(ctx, "1.2.3.4"))
	}
	assert.False(t, l.CheckWebSocketIP(ctx, "1.2.3.4"))

	// a different IP has its own bucket
	assert.True(t, l.CheckWebSocketIP(ctx, "5.6.7.8"))
}

func TestCheckFindPartner(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.True(t, l.CheckFindPartner(ctx, "conn-1"))
	}
	assert.False(t, l.CheckFindPartner(ctx, "conn-1"))
}

func TestCheckWebSocketIP_FailsOpenOnStoreOutage(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	assert.True(t, l.CheckWebSocketIP(context.Background(), "1.2.3.4"))
}
