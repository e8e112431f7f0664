// Package cache is a small stale-while-revalidate cache for public metadata.
//
// An entry younger than fresh is served as is. Between fresh and fresh+stale
// it is served while one background refresh reloads it. Older entries and
// misses load synchronously. Load errors are never cached.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Store is the byte-level backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Cache struct {
	store  Store
	fresh  time.Duration
	stale  time.Duration
	logger *slog.Logger
	now    func() time.Time

	inflight sync.Map
	wg       sync.WaitGroup
}

func New(store Store, fresh, stale time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		store:  store,
		fresh:  fresh,
		stale:  stale,
		logger: logger,
		now:    time.Now,
	}
}

type entry[T any] struct {
	Value    T         `json:"v"`
	StoredAt time.Time `json:"t"`
}

// Fetch returns the cached value for key, loading it when absent or expired.
// A nil Cache always loads.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if ok {
		var e entry[T]
		if err := json.Unmarshal(raw, &e); err == nil {
			age := c.now().Sub(e.StoredAt)
			switch {
			case age < c.fresh:
				return e.Value, nil
			case age < c.fresh+c.stale:
				revalidate(c, key, load)
				return e.Value, nil
			}
		}
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	store(ctx, c, key, v)
	return v, nil
}

// Invalidate drops keys so the next Fetch loads synchronously.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidate failed", "keys", keys, "error", err)
	}
}

// Wait blocks until background refreshes have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func revalidate[T any](c *Cache, key string, load func(context.Context) (T, error)) {
	if _, busy := c.inflight.LoadOrStore(key, struct{}{}); busy {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inflight.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		v, err := load(ctx)
		if err != nil {
			// Keep serving the stale copy until it ages out.
			c.logger.Debug("cache refresh failed", "key", key, "error", err)
			return
		}
		store(ctx, c, key, v)
	}()
}

func store[T any](ctx context.Context, c *Cache, key string, v T) {
	raw, err := json.Marshal(entry[T]{Value: v, StoredAt: c.now()})
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.fresh+c.stale); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
