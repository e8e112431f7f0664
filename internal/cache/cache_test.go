package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type meta struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

func setupCache() (*Cache, *clock) {
	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := New(newMemoryStore(), time.Minute, 10*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = clk.Now
	return c, clk
}

func counter(calls *int64) func(context.Context) (meta, error) {
	return func(context.Context) (meta, error) {
		n := atomic.AddInt64(calls, 1)
		return meta{Name: "Smile Dental", Version: n}, nil
	}
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("miss loads and stores", func(t *testing.T) {
		c, _ := setupCache()
		var calls int64

		v, err := Fetch(ctx, c, "clinic:smile", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Version)

		v, err = Fetch(ctx, c, "clinic:smile", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Version)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	})

	t.Run("stale entry served while refreshing", func(t *testing.T) {
		c, clk := setupCache()
		var calls int64

		_, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)

		clk.Advance(2 * time.Minute)
		v, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Version, "stale value returned immediately")

		c.Wait()
		assert.Equal(t, int64(2), atomic.LoadInt64(&calls))

		v, err = Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.Version, "refreshed value is fresh")
	})

	t.Run("expired entry loads synchronously", func(t *testing.T) {
		c, clk := setupCache()
		var calls int64

		_, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)

		clk.Advance(11 * time.Minute)
		v, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.Version)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c, _ := setupCache()
		boom := errors.New("not found")

		_, err := Fetch(ctx, c, "k", func(context.Context) (meta, error) { return meta{}, boom })
		assert.ErrorIs(t, err, boom)

		var calls int64
		v, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Version)
	})

	t.Run("invalidate forces reload", func(t *testing.T) {
		c, _ := setupCache()
		var calls int64

		_, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		c.Invalidate(ctx, "k")

		v, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.Version)
	})

	t.Run("nil cache loads directly", func(t *testing.T) {
		var calls int64
		var c *Cache

		_, err := Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		_, err = Fetch(ctx, c, "k", counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls)
		c.Invalidate(ctx, "k")
	})
}
