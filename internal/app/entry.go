package app

import (
	"context"
	"fmt"
	"time"

	"volumebot/internal/domain"
	"volumebot/internal/ports"
	"volumebot/internal/risk"
)

// RunEntryCycle performs one daily entry: rank instruments, size the stake,
// open the positions and schedule their planned exit. At most one cycle runs
// at a time; a trigger arriving while one is in flight is dropped.
func (s *Service) RunEntryCycle(ctx context.Context) {
	if !s.entryMu.TryLock() {
		s.logger.Warn(ctx, "Entry cycle already in progress, skipping trigger")
		return
	}
	defer s.entryMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("entry cycle panic: %v", r)
			s.logger.Error(ctx, err, "Entry cycle aborted by panic")
			if recErr := s.store.RecordError(ctx, err.Error(), "error"); recErr != nil {
				s.logger.Warn(ctx, "Failed to record entry panic", map[string]interface{}{"error": recErr.Error()})
			}
		}
	}()

	now := s.now().UTC()
	s.logger.Info(ctx, "Entry cycle started", map[string]interface{}{"time": now.Format(time.RFC3339)})

	if !s.marketIsSafe(ctx) {
		return
	}

	tickers := s.selector.TopByVolume(ctx)
	if len(tickers) == 0 {
		s.logger.Warn(ctx, "No instruments selected, skipping entry cycle")
		return
	}

	balance, err := s.freeBalance(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Could not determine free balance, skipping entry cycle")
		return
	}

	stake := risk.PositionSize(balance, s.cfg.StakePercent, s.cfg.MaxStake)
	if stake <= 0 {
		s.logger.Warn(ctx, "No stake available, skipping entry cycle", map[string]interface{}{"balance": balance})
		return
	}

	allocation := stake / float64(len(tickers))
	if allocation < s.cfg.MinAllocation {
		s.logger.Warn(ctx, "Per-symbol allocation below minimum, skipping entry cycle", map[string]interface{}{
			"allocation": allocation,
			"minimum":    s.cfg.MinAllocation,
		})
		return
	}

	holdHours := risk.ChooseHoldHours(s.cfg.HoldHoursPool, s.rng)
	// Anchor the exit to the hour boundary so backtests and live runs line up.
	exitAt := now.Truncate(time.Hour).Add(time.Duration(holdHours) * time.Hour)

	opened := 0
	for i, tk := range tickers {
		if err := ctx.Err(); err != nil {
			s.logger.Warn(ctx, "Entry cycle cancelled mid-way", map[string]interface{}{"opened": opened})
			break
		}
		if err := s.openPosition(ctx, tk, allocation, exitAt); err != nil {
			// One bad symbol must not sink the rest of the cycle.
			s.logger.Error(ctx, err, "Failed to open position", map[string]interface{}{"symbol": tk.Symbol})
			continue
		}
		opened++
		if i < len(tickers)-1 && s.cfg.OrderPause > 0 {
			time.Sleep(s.cfg.OrderPause)
		}
	}

	s.logger.Info(ctx, "Entry cycle finished", map[string]interface{}{
		"opened":    opened,
		"selected":  len(tickers),
		"stake":     stake,
		"holdHours": holdHours,
		"exitAt":    exitAt.Format(time.RFC3339),
	})
	if opened > 0 {
		s.notifier.Notify(ctx, fmt.Sprintf("📈 Entered %d/%d positions, stake %.2f %s, hold %dh (exit %s)",
			opened, len(tickers), stake, s.cfg.QuoteAsset, holdHours, exitAt.Format("15:04 MST")), ports.NotifyInfo)
		// New positions exist; wake the monitor so it picks them up now.
		s.KickMonitor()
	}
}

// marketIsSafe applies the market-wide volatility gate on the reference
// symbol. A shaky market aborts the whole cycle.
func (s *Service) marketIsSafe(ctx context.Context) bool {
	if !s.cfg.MarketSafetyEnabled {
		return true
	}

	tk, err := retryFetchTicker(ctx, s, s.cfg.SafetySymbol)
	if err != nil {
		s.logger.Error(ctx, err, "Market safety check failed, skipping entry cycle", map[string]interface{}{"symbol": s.cfg.SafetySymbol})
		return false
	}

	change := tk.PercentChange
	if change < 0 {
		change = -change
	}
	if change > s.cfg.MaxDailyChangePercent {
		s.logger.Warn(ctx, "Market too directional, skipping entry cycle", map[string]interface{}{
			"symbol":        tk.Symbol,
			"percentChange": tk.PercentChange,
			"limit":         s.cfg.MaxDailyChangePercent,
		})
		s.notifier.Notify(ctx, fmt.Sprintf("⛔ Entry skipped: %s moved %.2f%% in 24h (limit %.2f%%)",
			tk.Symbol, tk.PercentChange, s.cfg.MaxDailyChangePercent), ports.NotifyWarning)
		return false
	}

	if tk.Low > 0 {
		volatility := (tk.High - tk.Low) / tk.Low
		if volatility > s.cfg.MaxVolatility {
			s.logger.Warn(ctx, "Market too volatile, skipping entry cycle", map[string]interface{}{
				"symbol":     tk.Symbol,
				"volatility": volatility,
				"limit":      s.cfg.MaxVolatility,
			})
			s.notifier.Notify(ctx, fmt.Sprintf("⛔ Entry skipped: %s 24h range %.2f%% (limit %.2f%%)",
				tk.Symbol, volatility*100, s.cfg.MaxVolatility*100), ports.NotifyWarning)
			return false
		}
	}
	return true
}

func retryFetchTicker(ctx context.Context, s *Service, symbol string) (*domain.Ticker, error) {
	return retryValue(s, ctx, "fetch safety ticker", func(ctx context.Context) (*domain.Ticker, error) {
		return s.exchange.FetchTicker(ctx, symbol)
	})
}

// openPosition buys one instrument and persists the resulting position.
func (s *Service) openPosition(ctx context.Context, tk *domain.Ticker, allocation float64, exitAt time.Time) error {
	entryPrice := tk.LastPrice
	quantity := 0.0
	entryAmount := allocation

	if s.cfg.DryRun {
		if entryPrice <= 0 {
			return fmt.Errorf("no reference price for %s: %w", tk.Symbol, ports.ErrPriceUnavailable)
		}
		quantity = allocation / entryPrice
		s.logger.Info(ctx, "[DRY] BUY", map[string]interface{}{
			"symbol": tk.Symbol, "quoteAmount": allocation, "price": entryPrice, "quantity": quantity,
		})
	} else {
		order, err := retryValue(s, ctx, "market buy "+tk.Symbol, func(ctx context.Context) (*ports.OrderResponse, error) {
			return s.exchange.PlaceMarketBuy(ctx, tk.Symbol, allocation)
		})
		if err != nil {
			return err
		}
		// The fill is authoritative; the ticker price is only a fallback.
		if order.Price > 0 {
			entryPrice = order.Price
		}
		if order.Quantity > 0 {
			quantity = order.Quantity
		} else if entryPrice > 0 {
			quantity = allocation / entryPrice
		}
		if order.QuoteAmount > 0 {
			entryAmount = order.QuoteAmount
		}
	}

	if entryPrice <= 0 || quantity <= 0 {
		return fmt.Errorf("order for %s produced no usable fill (price=%f qty=%f)", tk.Symbol, entryPrice, quantity)
	}

	pos := &domain.Position{
		Symbol:      tk.Symbol,
		Side:        domain.OrderSideBuy,
		Quantity:    quantity,
		EntryPrice:  entryPrice,
		EntryAmount: entryAmount,
		ExitAt:      exitAt,
		Status:      domain.StatusOpen,
		CreatedAt:   s.now().UTC(),
	}
	if s.cfg.StopLossEnabled {
		pos.StopLoss = entryPrice * (1 - s.cfg.StopLossThreshold)
	}
	if s.cfg.TakeProfitEnabled {
		tp := entryPrice * (1 + s.cfg.TakeProfitThreshold)
		pos.TakeProfit = &tp
	}

	if _, err := s.store.Create(ctx, pos); err != nil {
		return fmt.Errorf("position for %s bought but not persisted: %w", tk.Symbol, err)
	}
	s.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "entryPrice": entryPrice,
		"quantity": quantity, "stopLoss": pos.StopLoss, "exitAt": exitAt.Format(time.RFC3339),
	})
	return nil
}
