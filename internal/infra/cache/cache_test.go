package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/shopbot-core/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	assert.False(t, ok)
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	assert.False(t, ok, "expected cache entry to be expired")
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[bool](5 * time.Minute)
	defer c.Close()

	c.Set("global", true)
	c.Delete("global")

	_, ok := c.Get("global")
	assert.False(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	loads := 0
	load := func() (int, error) {
		loads++
		return 42, nil
	}

	v, hit, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42, v)

	v, hit, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, loads)
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	_, _, err := c.GetOrLoad("k", func() (int, error) { return 0, errors.New("store down") })
	require.Error(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok)
}
