package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumebot/internal/domain"
)

type mockLogger struct{ warns int }

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.warns++
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockSource struct {
	tickers map[string]*domain.Ticker
	err     error
}

func (s *mockSource) Tickers(ctx context.Context) (map[string]*domain.Ticker, error) {
	return s.tickers, s.err
}

func tk(symbol string, quoteVolume float64) *domain.Ticker {
	return &domain.Ticker{Symbol: symbol, QuoteVolume: quoteVolume}
}

func TestTopByVolume_RanksByQuoteVolume(t *testing.T) {
	source := &mockSource{tickers: map[string]*domain.Ticker{
		"BTCUSDT": tk("BTCUSDT", 900),
		"ETHUSDT": tk("ETHUSDT", 1200),
		"XRPUSDT": tk("XRPUSDT", 300),
		"SOLUSDT": tk("SOLUSDT", 700),
	}}
	s := New(&mockLogger{}, source, "USDT", 3)

	got := s.TopByVolume(context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, "ETHUSDT", got[0].Symbol)
	assert.Equal(t, "BTCUSDT", got[1].Symbol)
	assert.Equal(t, "SOLUSDT", got[2].Symbol)
}

func TestTopByVolume_TieBreaksBySymbol(t *testing.T) {
	source := &mockSource{tickers: map[string]*domain.Ticker{
		"BBBUSDT": tk("BBBUSDT", 500),
		"AAAUSDT": tk("AAAUSDT", 500),
		"CCCUSDT": tk("CCCUSDT", 500),
	}}
	s := New(&mockLogger{}, source, "USDT", 10)

	got := s.TopByVolume(context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, "AAAUSDT", got[0].Symbol)
	assert.Equal(t, "BBBUSDT", got[1].Symbol)
	assert.Equal(t, "CCCUSDT", got[2].Symbol)
}

func TestTopByVolume_FiltersQuoteAsset(t *testing.T) {
	source := &mockSource{tickers: map[string]*domain.Ticker{
		"BTCUSDT": tk("BTCUSDT", 900),
		"BTCBUSD": tk("BTCBUSD", 9000),
		"ETHBTC":  tk("ETHBTC", 5000),
	}}
	s := New(&mockLogger{}, source, "USDT", 10)

	got := s.TopByVolume(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
}

func TestTopByVolume_EmptyOnSourceError(t *testing.T) {
	logger := &mockLogger{}
	s := New(logger, &mockSource{err: errors.New("exchange down")}, "USDT", 10)

	got := s.TopByVolume(context.Background())
	assert.Empty(t, got)
	assert.Equal(t, 1, logger.warns)
}

func TestTopByVolume_FewerCandidatesThanLimit(t *testing.T) {
	source := &mockSource{tickers: map[string]*domain.Ticker{
		"BTCUSDT": tk("BTCUSDT", 900),
	}}
	s := New(&mockLogger{}, source, "USDT", 10)

	got := s.TopByVolume(context.Background())
	assert.Len(t, got, 1)
}
