package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumebot/internal/retry"
)

type mockLogger struct {
	warns int
}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.warns++
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestCache(t *testing.T) (*Cache, *mockLogger, *time.Time) {
	t.Helper()
	logger := &mockLogger{}
	r := retry.New(retry.Config{Logger: logger, MaxAttempts: 1, BaseDelay: time.Millisecond})
	c := New(logger, r, 10*time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, logger, &now
}

func TestGet_LoadsOncePerTTL(t *testing.T) {
	c, _, now := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (interface{}, error) {
		loads++
		return loads, nil
	}

	v, err := c.Get(ctx, KeyTickers, time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Within the TTL the cached value is served.
	*now = now.Add(30 * time.Second)
	v, err = c.Get(ctx, KeyTickers, time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, loads)

	// Past the TTL the loader runs again.
	*now = now.Add(31 * time.Second)
	v, err = c.Get(ctx, KeyTickers, time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, loads)
}

func TestGet_ServesStaleOnRefreshFailure(t *testing.T) {
	c, logger, now := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("exchange down")
		}
		return 42.0, nil
	}

	_, err := c.Get(ctx, "balance:USDT", time.Minute, loader)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	v, err := c.Get(ctx, "balance:USDT", time.Minute, loader)
	require.NoError(t, err, "stale value should be served when refresh fails")
	assert.Equal(t, 42.0, v)
	assert.GreaterOrEqual(t, logger.warns, 1)
}

func TestGet_ErrorWithNoCachedValue(t *testing.T) {
	c, _, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "price:BTCUSDT", time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
}

func TestInvalidate_ForcesReload(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (interface{}, error) {
		loads++
		return loads, nil
	}

	_, err := c.Get(ctx, KeyTickers, time.Hour, loader)
	require.NoError(t, err)
	c.Invalidate(KeyTickers)
	v, err := c.Get(ctx, KeyTickers, time.Hour, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPrice_PrefersFreshStreamQuote(t *testing.T) {
	c, _, now := newTestCache(t)
	ctx := context.Background()

	polled := 0
	loader := func(ctx context.Context) (float64, error) {
		polled++
		return 100.0, nil
	}

	c.SetStreamPrice("BTCUSDT", 105.5)
	p, err := c.Price(ctx, "BTCUSDT", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 105.5, p)
	assert.Equal(t, 0, polled, "fresh stream quote must not trigger a poll")

	// Once the stream quote goes stale, fall back to polling.
	*now = now.Add(11 * time.Second)
	p, err = c.Price(ctx, "BTCUSDT", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)
	assert.Equal(t, 1, polled)
}

func TestPrice_StreamUpdateRefreshesFreshness(t *testing.T) {
	c, _, now := newTestCache(t)
	ctx := context.Background()

	c.SetStreamPrice("ETHUSDT", 2000)
	*now = now.Add(8 * time.Second)
	c.SetStreamPrice("ETHUSDT", 2010)
	*now = now.Add(8 * time.Second)

	p, err := c.Price(ctx, "ETHUSDT", time.Minute, func(ctx context.Context) (float64, error) {
		t.Fatal("poll loader should not run")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2010.0, p)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "balance:USDT", BalanceKey("USDT"))
	assert.Equal(t, "price:BTCUSDT", PriceKey("BTCUSDT"))
}
