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

func TestRunEntryCycle_DryRunOpensTopSymbols(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSymbols = 2
	f := newFixture(t, cfg)

	f.addTicker("BTCUSDT", 100, 5000)
	f.addTicker("ETHUSDT", 50, 4000)
	f.addTicker("XRPUSDT", 2, 100)

	f.svc.RunEntryCycle(context.Background())

	open := f.store.openPositions()
	require.Len(t, open, 2)

	bySymbol := map[string]*domain.Position{}
	for _, p := range open {
		bySymbol[p.Symbol] = p
	}
	require.Contains(t, bySymbol, "BTCUSDT")
	require.Contains(t, bySymbol, "ETHUSDT")

	// Stake = 10% of the 10000 dry-run balance, split over two symbols.
	btc := bySymbol["BTCUSDT"]
	assert.InDelta(t, 500.0, btc.EntryAmount, 1e-9)
	assert.InDelta(t, 5.0, btc.Quantity, 1e-9)
	assert.InDelta(t, 100.0, btc.EntryPrice, 1e-9)
	assert.InDelta(t, 95.0, btc.StopLoss, 1e-9)
	assert.Nil(t, btc.TakeProfit)

	// Exit anchored to the hour boundary plus the configured hold.
	wantExit := f.now.Truncate(time.Hour).Add(10 * time.Hour)
	assert.Equal(t, wantExit, btc.ExitAt)

	// Dry run never places orders.
	assert.Empty(t, f.exchange.buyOrders)
	assert.Equal(t, 1, f.notifier.count())
}

func TestRunEntryCycle_TakeProfitRecordedWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfitEnabled = true
	cfg.TakeProfitThreshold = 0.10
	f := newFixture(t, cfg)
	f.addTicker("BTCUSDT", 100, 5000)

	f.svc.RunEntryCycle(context.Background())

	open := f.store.openPositions()
	require.Len(t, open, 1)
	require.NotNil(t, open[0].TakeProfit)
	assert.InDelta(t, 110.0, *open[0].TakeProfit, 1e-9)
}

func TestRunEntryCycle_MarketSafetyGateAborts(t *testing.T) {
	cfg := testConfig()
	cfg.MarketSafetyEnabled = true
	cfg.SafetySymbol = "BTCUSDT"
	cfg.MaxDailyChangePercent = 10
	f := newFixture(t, cfg)

	f.addTicker("BTCUSDT", 100, 5000)
	f.exchange.tickers["BTCUSDT"].PercentChange = -14.2
	f.addTicker("ETHUSDT", 50, 4000)

	f.svc.RunEntryCycle(context.Background())

	assert.Empty(t, f.store.openPositions())
	assert.Empty(t, f.exchange.buyOrders)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, ports.NotifyWarning, f.notifier.levels[0])
}

func TestRunEntryCycle_VolatilityGateAborts(t *testing.T) {
	cfg := testConfig()
	cfg.MarketSafetyEnabled = true
	cfg.SafetySymbol = "BTCUSDT"
	cfg.MaxVolatility = 0.15
	f := newFixture(t, cfg)

	f.addTicker("BTCUSDT", 100, 5000)
	f.exchange.tickers["BTCUSDT"].High = 120
	f.exchange.tickers["BTCUSDT"].Low = 90

	f.svc.RunEntryCycle(context.Background())

	assert.Empty(t, f.store.openPositions())
}

func TestRunEntryCycle_TickerSourceErrorSkipsCycle(t *testing.T) {
	f := newFixture(t, testConfig())
	f.exchange.tickersErr = errors.New("exchange down")

	f.svc.RunEntryCycle(context.Background())

	assert.Empty(t, f.store.openPositions())
	assert.Empty(t, f.exchange.buyOrders)
}

func TestRunEntryCycle_AllocationBelowMinimumSkips(t *testing.T) {
	cfg := testConfig()
	cfg.DryRunBalance = 100 // Stake 10, split over 2 symbols = 5 < MinAllocation 10
	cfg.MaxSymbols = 2
	f := newFixture(t, cfg)
	f.addTicker("BTCUSDT", 100, 5000)
	f.addTicker("ETHUSDT", 50, 4000)

	f.svc.RunEntryCycle(context.Background())

	assert.Empty(t, f.store.openPositions())
}

func TestRunEntryCycle_LiveModeUsesFills(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = false
	cfg.MaxSymbols = 1
	f := newFixture(t, cfg)

	f.addTicker("BTCUSDT", 100, 5000)
	f.exchange.balances["USDT"] = 2000
	// The fill reports a slightly worse average price than the ticker.
	f.exchange.buyResp["BTCUSDT"] = &ports.OrderResponse{
		OrderID: 7, Symbol: "BTCUSDT", Side: "BUY",
		Price: 100.5, Quantity: 1.99, QuoteAmount: 199.995, Status: "FILLED",
	}

	f.svc.RunEntryCycle(context.Background())

	require.Equal(t, []string{"BTCUSDT"}, f.exchange.buyOrders)
	open := f.store.openPositions()
	require.Len(t, open, 1)
	assert.InDelta(t, 100.5, open[0].EntryPrice, 1e-9)
	assert.InDelta(t, 1.99, open[0].Quantity, 1e-9)
	assert.InDelta(t, 199.995, open[0].EntryAmount, 1e-9)
}

func TestRunEntryCycle_PerSymbolFailureIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = false
	cfg.MaxSymbols = 3
	f := newFixture(t, cfg)

	f.addTicker("BTCUSDT", 100, 5000)
	f.addTicker("ETHUSDT", 50, 4000)
	f.addTicker("XRPUSDT", 2, 3000)
	f.exchange.balances["USDT"] = 3000
	f.exchange.buyErr["ETHUSDT"] = errors.New("order rejected")

	f.svc.RunEntryCycle(context.Background())

	open := f.store.openPositions()
	require.Len(t, open, 2)
	symbols := map[string]bool{}
	for _, p := range open {
		symbols[p.Symbol] = true
	}
	assert.True(t, symbols["BTCUSDT"])
	assert.True(t, symbols["XRPUSDT"])
	assert.False(t, symbols["ETHUSDT"])
}

func TestRunEntryCycle_SecondTriggerDropped(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTicker("BTCUSDT", 100, 5000)

	// Simulate an in-flight cycle holding the guard.
	f.svc.entryMu.Lock()
	f.svc.RunEntryCycle(context.Background())
	f.svc.entryMu.Unlock()

	assert.Empty(t, f.store.openPositions())
}
