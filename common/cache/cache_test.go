package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheAdd(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	won, err := c.Add(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = c.Add(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, won)

	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "first", val)
}

func TestMemoryCacheAddReclaimsExpired(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	won, err := c.Add(ctx, "k", "first", time.Millisecond)
	require.NoError(t, err)
	require.True(t, won)
	time.Sleep(5 * time.Millisecond)

	won, err = c.Add(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
