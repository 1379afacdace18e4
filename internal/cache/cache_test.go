package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok, "entry must expire exactly at ttl")

	m.purge()
	assert.Equal(t, 0, m.Len())
}

func TestMemory_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	_ = m.Set(ctx, Key("availability", "s1", "x"), []byte("1"), 0)
	_ = m.Set(ctx, Key("availability", "s1", "y"), []byte("2"), 0)
	_ = m.Set(ctx, Key("availability", "s2", "x"), []byte("3"), 0)

	require.NoError(t, m.DeletePrefix(ctx, "availability:s1:"))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "availability:s2:x"))
	assert.Equal(t, 0, m.Len())
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	type payload struct {
		N    int    `json:"n"`
		Name string `json:"name"`
	}
	require.NoError(t, SetJSON(ctx, m, "k", payload{N: 7, Name: "x"}, time.Minute))

	got, ok := GetJSON[payload](ctx, m, "k")
	require.True(t, ok)
	assert.Equal(t, payload{N: 7, Name: "x"}, got)

	_, ok = GetJSON[payload](ctx, m, "missing")
	assert.False(t, ok)

	_, ok = GetJSON[payload](ctx, nil, "k")
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis test")
	}
	ctx := context.Background()
	r := NewRedis(addr, os.Getenv("REDIS_PASSWORD"), 0)
	defer r.Close()
	require.NoError(t, r.Ping(ctx))

	require.NoError(t, r.Set(ctx, "test:a", []byte("1"), time.Minute))
	v, ok, err := r.Get(ctx, "test:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	require.NoError(t, r.DeletePrefix(ctx, "test:"))
	_, ok, err = r.Get(ctx, "test:a")
	require.NoError(t, err)
	assert.False(t, ok)
}
