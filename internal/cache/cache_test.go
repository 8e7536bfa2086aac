package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/config"
)

func TestTTLSetGetDelete(t *testing.T) {
	c := NewTTL("test", time.Minute, 10)
	defer c.Close()

	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL("test", time.Minute, 10)
	defer c.Close()

	c.SetWithTTL("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLEvictsWhenFull(t *testing.T) {
	c := NewTTL("test", time.Minute, 2)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.LessOrEqual(t, c.Len(), 2)
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisJSONRoundTrip(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name  string  `json:"name"`
		Total float64 `json:"total"`
	}
	require.NoError(t, r.SetJSON(ctx, "dash", payload{Name: "acme", Total: 12.5}, time.Minute))

	var got payload
	ok, err := r.GetJSON(ctx, "dash", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "acme", Total: 12.5}, got)
}

func TestRedisMissReturnsFalse(t *testing.T) {
	r, _ := newTestRedis(t)

	var got map[string]interface{}
	ok, err := r.GetJSON(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTTLExpires(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.SetJSON(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	ok, err := r.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.SetJSON(ctx, "k", 1, time.Minute))
	require.NoError(t, r.Delete(ctx, "k"))

	var got int
	ok, err := r.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
