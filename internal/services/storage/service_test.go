package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *TempStore {
	t.Helper()
	store, err := NewTempStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func TestTempStore_WriteAndRemove(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Write(context.Background(), []byte("payload"), ".jpg")
	require.NoError(t, err)
	assert.Equal(t, store.Dir(), filepath.Dir(path))
	assert.Equal(t, ".jpg", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Remove(path))
	require.NoError(t, store.Remove(path), "removing twice is not an error")

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTempStore_WriteCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Write(ctx, []byte("x"), ".jpg")
	require.ErrorIs(t, err, context.Canceled)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTempStore_Sweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	oldPath, err := store.Write(ctx, []byte("old"), ".jpg")
	require.NoError(t, err)
	freshPath, err := store.Write(ctx, []byte("fresh"), ".jpg")
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	// Files without the temp prefix belong to someone else.
	foreign := filepath.Join(store.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o600))
	require.NoError(t, os.Chtimes(foreign, past, past))

	removed, err := store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
	assert.FileExists(t, foreign)

	removed, err = store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTempStore_SweepRejectsNonPositiveAge(t *testing.T) {
	store := newTestStore(t)
	path, err := store.Write(context.Background(), []byte("held"), ".jpg")
	require.NoError(t, err)

	for _, age := range []time.Duration{0, -time.Minute} {
		removed, err := store.Sweep(age)
		require.Error(t, err)
		assert.Zero(t, removed)
	}
	assert.FileExists(t, path)
}

func TestMemoryCache_TTL(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	got, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, "k", []byte("v2"), 0))
	require.NoError(t, cache.Delete(ctx, "k"))
	got, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheKey_Stable(t *testing.T) {
	a := CacheKey("probe", "claude", "v1")
	b := CacheKey("probe", "claude", "v1")
	c := CacheKey("probe", "claudev1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "probe:")
}

func TestHealthCheck_WithoutRedis(t *testing.T) {
	store := newTestStore(t)

	status := HealthCheck(context.Background(), store, NewMemoryCache())
	assert.Equal(t, "healthy", status["temp_dir"])
	assert.Equal(t, "not configured", status["redis"])
}
