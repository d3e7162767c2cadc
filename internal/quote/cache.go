// Package quote caches exchange market data so repeated reads within a TTL
// reuse the last fetched value instead of hitting the API again.
package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"volumebot/internal/ports"
	"volumebot/internal/retry"
)

// Well-known cache keys.
const (
	KeyTickers = "tickers"
)

// BalanceKey returns the cache key for a quote asset's free balance.
func BalanceKey(asset string) string { return "balance:" + asset }

// PriceKey returns the cache key for a symbol's last price.
func PriceKey(symbol string) string { return "price:" + symbol }

type entry struct {
	value     interface{}
	fetchedAt time.Time
}

type streamQuote struct {
	price     float64
	updatedAt time.Time
}

// Cache is a TTL cache for market data with a separate low-latency lane for
// websocket stream prices. All loads go through the Retrier so every remote
// call shares one backoff policy.
type Cache struct {
	logger  ports.Logger
	retrier *retry.Retrier

	streamFreshness time.Duration

	mu      sync.RWMutex
	entries map[string]entry
	stream  map[string]streamQuote

	// single-flight per key so concurrent misses trigger one load
	loadMu sync.Mutex
	loads  map[string]*sync.WaitGroup

	now func() time.Time
}

// New creates a Cache. streamFreshness bounds how old a stream price may be
// before Price falls back to polling.
func New(logger ports.Logger, retrier *retry.Retrier, streamFreshness time.Duration) *Cache {
	if streamFreshness <= 0 {
		streamFreshness = 10 * time.Second
	}
	return &Cache{
		logger:          logger,
		retrier:         retrier,
		streamFreshness: streamFreshness,
		entries:         make(map[string]entry),
		stream:          make(map[string]streamQuote),
		loads:           make(map[string]*sync.WaitGroup),
		now:             time.Now,
	}
}

// Get returns the cached value for key if it is younger than ttl, otherwise
// refreshes it via loader (executed through the Retrier). On a refresh failure
// with a stale value present, the stale value is served with a warning; with
// no value at all the error is returned.
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Sub(e.fetchedAt) < ttl {
		return e.value, nil
	}

	// Collapse concurrent refreshes of the same key into one load.
	c.loadMu.Lock()
	if wg, inflight := c.loads[key]; inflight {
		c.loadMu.Unlock()
		wg.Wait()
		c.mu.RLock()
		e, ok = c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.fetchedAt) < ttl {
			return e.value, nil
		}
		// The piggybacked load failed; fall through to our own attempt.
		c.loadMu.Lock()
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.loads[key] = wg
	c.loadMu.Unlock()

	defer func() {
		c.loadMu.Lock()
		delete(c.loads, key)
		c.loadMu.Unlock()
		wg.Done()
	}()

	value, err := retry.DoValue(c.retrier, ctx, "refresh "+key, loader)
	if err != nil {
		if ok {
			c.logger.Warn(ctx, "Cache refresh failed, serving stale value", map[string]interface{}{
				"key":   key,
				"age":   c.now().Sub(e.fetchedAt).String(),
				"error": err.Error(),
			})
			return e.value, nil
		}
		return nil, fmt.Errorf("cache load %q: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the cached value for key, forcing the next Get to reload.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// SetStreamPrice records a price pushed by the websocket mini-ticker stream.
func (c *Cache) SetStreamPrice(symbol string, price float64) {
	c.mu.Lock()
	c.stream[symbol] = streamQuote{price: price, updatedAt: c.now()}
	c.mu.Unlock()
}

// Price returns the current price for symbol, preferring a sufficiently fresh
// stream quote over a polled one. loader fetches the price over REST when the
// stream lane cannot serve.
func (c *Cache) Price(ctx context.Context, symbol string, ttl time.Duration, loader func(ctx context.Context) (float64, error)) (float64, error) {
	c.mu.RLock()
	sq, ok := c.stream[symbol]
	c.mu.RUnlock()
	if ok && c.now().Sub(sq.updatedAt) < c.streamFreshness {
		return sq.price, nil
	}

	v, err := c.Get(ctx, PriceKey(symbol), ttl, func(ctx context.Context) (interface{}, error) {
		return loader(ctx)
	})
	if err != nil {
		return 0, err
	}
	price, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("cache entry %q holds %T, not float64: %w", PriceKey(symbol), v, ports.ErrUnknown)
	}
	return price, nil
}
