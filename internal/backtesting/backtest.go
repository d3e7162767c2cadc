// Package backtesting replays the daily-entry / timed-exit lifecycle over
// historical hourly candles.
package backtesting

import (
	"fmt"
	"sort"
	"time"

	"volumebot/internal/analytics"
	"volumebot/internal/domain"
	"volumebot/internal/risk"
)

// Config holds configuration for a backtest run.
type Config struct {
	Symbol              string
	InitialFunds        float64
	StakePercent        float64 // Fraction of the running balance staked per entry
	MaxStake            float64
	HoldHours           int // Fixed holding period (the live bot randomizes from a pool)
	StopLossEnabled     bool
	StopLossThreshold   float64
	TakeProfitEnabled   bool
	TakeProfitThreshold float64
}

// Result holds the outcome of a backtest: the aggregate metrics plus every
// simulated position.
type Result struct {
	*analytics.PerformanceMetrics
	Positions []*domain.Position
}

// Run simulates daily entries over hourly klines: enter at the first candle
// of each UTC day, then exit on stop-loss, take-profit or expiry. Within a
// candle the stop-loss is assumed to trigger before the take-profit.
func Run(klines []*domain.Kline, cfg Config) (*Result, error) {
	if len(klines) == 0 {
		return nil, fmt.Errorf("no klines to backtest")
	}
	if cfg.InitialFunds <= 0 {
		return nil, fmt.Errorf("initial funds must be positive")
	}
	if cfg.HoldHours <= 0 {
		return nil, fmt.Errorf("hold hours must be positive")
	}

	sorted := make([]*domain.Kline, len(klines))
	copy(sorted, klines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	balance := cfg.InitialFunds
	var positions []*domain.Position
	var current *domain.Position
	var currentDay string

	for _, k := range sorted {
		// Exits are evaluated before a new day's entry so an expiring position
		// frees the balance for the next cycle.
		if current != nil {
			if exitPrice, reason, ok := evaluateExit(current, k, cfg); ok {
				closePosition(current, exitPrice, reason, k.OpenTime)
				balance += current.PNL
				positions = append(positions, current)
				current = nil
			}
		}

		// Entries happen on the first candle of a UTC day, mirroring the live
		// bot's 00:01 schedule.
		day := k.OpenTime.UTC().Format("2006-01-02")
		if current == nil && k.OpenTime.UTC().Hour() == 0 && day != currentDay {
			currentDay = day
			pos := enterPosition(k, balance, cfg)
			if pos != nil {
				current = pos
			}
		}
	}

	// A position still open at the end of the data closes at the last price.
	if current != nil {
		last := sorted[len(sorted)-1]
		closePosition(current, last.Close, domain.CloseReasonManual, last.CloseTime)
		balance += current.PNL
		positions = append(positions, current)
	}

	return &Result{
		PerformanceMetrics: analytics.AnalyzePerformance(positions, cfg.InitialFunds),
		Positions:          positions,
	}, nil
}

func enterPosition(k *domain.Kline, balance float64, cfg Config) *domain.Position {
	stake := risk.PositionSize(balance, cfg.StakePercent, cfg.MaxStake)
	if stake <= 0 || k.Open <= 0 {
		return nil
	}

	entryPrice := k.Open
	pos := &domain.Position{
		Symbol:      cfg.Symbol,
		Side:        domain.OrderSideBuy,
		Quantity:    stake / entryPrice,
		EntryPrice:  entryPrice,
		EntryAmount: stake,
		ExitAt:      k.OpenTime.Add(time.Duration(cfg.HoldHours) * time.Hour),
		Status:      domain.StatusOpen,
		CreatedAt:   k.OpenTime,
	}
	if cfg.StopLossEnabled {
		pos.StopLoss = entryPrice * (1 - cfg.StopLossThreshold)
	}
	if cfg.TakeProfitEnabled {
		tp := entryPrice * (1 + cfg.TakeProfitThreshold)
		pos.TakeProfit = &tp
	}
	return pos
}

// evaluateExit checks one candle against the exit rules. The candle's low is
// the pessimistic trigger for the stop, its high for the take-profit.
func evaluateExit(pos *domain.Position, k *domain.Kline, cfg Config) (float64, domain.CloseReason, bool) {
	if cfg.StopLossEnabled && pos.StopLoss > 0 && k.Low <= pos.StopLoss {
		return pos.StopLoss, domain.CloseReasonStopLoss, true
	}
	if pos.TakeProfit != nil && k.High >= *pos.TakeProfit {
		return *pos.TakeProfit, domain.CloseReasonTakeProfit, true
	}
	if !k.OpenTime.Before(pos.ExitAt) {
		return k.Open, domain.CloseReasonTimeExpiry, true
	}
	return 0, domain.CloseReasonNone, false
}

func closePosition(pos *domain.Position, exitPrice float64, reason domain.CloseReason, at time.Time) {
	pos.Status = domain.StatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = exitPrice
	pos.PNL = (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.EntryPrice > 0 {
		pos.PNLPercent = (exitPrice/pos.EntryPrice - 1) * 100
	}
	pos.ClosedAt = at
}
