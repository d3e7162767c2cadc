package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumebot/internal/domain"
	"volumebot/internal/ports"
)

func (f *fixture) addOpenPosition(t *testing.T, symbol string, entryPrice float64, createdAt, exitAt time.Time) int64 {
	t.Helper()
	pos := &domain.Position{
		Symbol:      symbol,
		Side:        domain.OrderSideBuy,
		Quantity:    10,
		EntryPrice:  entryPrice,
		EntryAmount: entryPrice * 10,
		ExitAt:      exitAt,
		StopLoss:    entryPrice * 0.95,
		Status:      domain.StatusOpen,
		CreatedAt:   createdAt,
	}
	id, err := f.store.Create(context.Background(), pos)
	require.NoError(t, err)
	return id
}

func TestEvaluatePositions_StopLossCloses(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("BTCUSDT", 90, 0) // Price well below the 5% stop

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-2*time.Hour), f.now.Add(8*time.Hour))

	f.svc.evaluatePositions(context.Background())

	closed := f.store.position(id)
	require.NotNil(t, closed)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, closed.CloseReason)
	assert.InDelta(t, 90.0, closed.ExitPrice, 1e-9)
	assert.InDelta(t, -100.0, closed.PNL, 1e-9) // (90-100)*10
	assert.InDelta(t, -10.0, closed.PNLPercent, 1e-9)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, ports.NotifyWarning, f.notifier.levels[0])
}

func TestEvaluatePositions_ProfitableAboveStopStaysOpen(t *testing.T) {
	f := newFixture(t, testConfig())
	// In profit the ratcheted stop trails below the current price, so the
	// position rides on until take-profit or expiry.
	f.addTicker("BTCUSDT", 101, 0)

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-24*time.Hour), f.now.Add(2*time.Hour))

	f.svc.evaluatePositions(context.Background())

	assert.Equal(t, domain.StatusOpen, f.store.position(id).Status)
}

func TestEvaluatePositions_TakeProfitCloses(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("BTCUSDT", 111, 0)

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-time.Hour), f.now.Add(9*time.Hour))
	tp := 110.0
	f.store.positions[id].TakeProfit = &tp

	f.svc.evaluatePositions(context.Background())

	closed := f.store.position(id)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed.CloseReason)
	assert.InDelta(t, 110.0, closed.PNL, 1e-9) // (111-100)*10
}

func TestEvaluatePositions_ExpiryCloses(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("BTCUSDT", 102, 0)

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-10*time.Hour), f.now.Add(-time.Minute))

	f.svc.evaluatePositions(context.Background())

	closed := f.store.position(id)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonTimeExpiry, closed.CloseReason)
	assert.InDelta(t, 20.0, closed.PNL, 1e-9)
}

func TestEvaluatePositions_StopLossBeatsExpiry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("BTCUSDT", 90, 0)

	// Past due AND below the stop: stop-loss wins the precedence.
	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-10*time.Hour), f.now.Add(-time.Minute))

	f.svc.evaluatePositions(context.Background())

	assert.Equal(t, domain.CloseReasonStopLoss, f.store.position(id).CloseReason)
}

func TestEvaluatePositions_PriceUnavailableDefers(t *testing.T) {
	f := newFixture(t, testConfig())
	f.exchange.tickerErr["BTCUSDT"] = errors.New("api down")

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-10*time.Hour), f.now.Add(-time.Minute))

	next := f.svc.evaluatePositions(context.Background())

	// Past due, but without a price the position must stay open.
	assert.Equal(t, domain.StatusOpen, f.store.position(id).Status)
	// The deferred position is past due, so the next check comes quickly.
	assert.Equal(t, f.cfg.QuickCheckInterval, next)
}

func TestEvaluatePositions_SellFailureKeepsPositionOpen(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = false
	f := newFixture(t, cfg)
	f.addTicker("BTCUSDT", 102, 0)
	f.exchange.sellErr["BTCUSDT"] = errors.New("order rejected")

	id := f.addOpenPosition(t, "BTCUSDT", 100, f.now.Add(-10*time.Hour), f.now.Add(-time.Minute))

	f.svc.evaluatePositions(context.Background())

	assert.Equal(t, domain.StatusOpen, f.store.position(id).Status)
	// The terminal retry failure was durably recorded.
	assert.NotEmpty(t, f.store.recordedErrors)
}

func TestEvaluatePositions_NextIntervalFromNearestExit(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("AAAUSDT", 100, 0)
	f.addTicker("BBBUSDT", 100, 0)

	// One far from exit, one 18 minutes away (0.3h <= threshold/2).
	f.addOpenPosition(t, "AAAUSDT", 100, f.now.Add(-time.Hour), f.now.Add(9*time.Hour))
	f.addOpenPosition(t, "BBBUSDT", 100, f.now.Add(-time.Hour), f.now.Add(18*time.Minute))

	next := f.svc.evaluatePositions(context.Background())
	assert.Equal(t, f.cfg.QuickCheckInterval, next)
}

func TestEvaluatePositions_NoPositionsUsesBaseInterval(t *testing.T) {
	f := newFixture(t, testConfig())
	next := f.svc.evaluatePositions(context.Background())
	assert.Equal(t, f.cfg.BaseCheckInterval, next)
}

func TestEvaluatePositions_StoreErrorFallsBack(t *testing.T) {
	f := newFixture(t, testConfig())
	f.store.findErr = errors.New("db locked")

	next := f.svc.evaluatePositions(context.Background())
	assert.Equal(t, f.cfg.MonitorFallback, next)
}

func TestEvaluatePositions_SnapshotOncePerDay(t *testing.T) {
	f := newFixture(t, testConfig())
	f.store.stats = &domain.TradingStats{WindowDays: 30, TradeCount: 4, WinRate: 0.75, TotalPNL: 12}

	// First cycle of the day inside the midnight hour.
	f.setNow(time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC))
	f.svc.evaluatePositions(context.Background())
	require.Len(t, f.store.snapshots, 1)
	assert.Equal(t, 1, f.notifier.count())

	// Later cycle in the same hour must not snapshot again.
	f.setNow(time.Date(2025, 6, 2, 0, 40, 0, 0, time.UTC))
	f.svc.evaluatePositions(context.Background())
	assert.Len(t, f.store.snapshots, 1)

	// Next day snapshots again.
	f.setNow(time.Date(2025, 6, 3, 0, 5, 0, 0, time.UTC))
	f.svc.evaluatePositions(context.Background())
	assert.Len(t, f.store.snapshots, 2)
}

func TestEvaluatePositions_NoSnapshotOutsideMidnightHour(t *testing.T) {
	f := newFixture(t, testConfig())
	f.svc.evaluatePositions(context.Background()) // fixture time is 12:00 UTC
	assert.Empty(t, f.store.snapshots)
}
