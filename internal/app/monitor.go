package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"volumebot/internal/domain"
	"volumebot/internal/ports"
	"volumebot/internal/risk"
)

// StartMonitor begins the monitor timer chain. The first evaluation runs
// immediately; every cycle schedules the next one.
func (s *Service) StartMonitor(ctx context.Context) {
	s.monitorMu.Lock()
	s.monitorCtx = ctx
	s.monitorMu.Unlock()
	s.scheduleMonitor(0)
}

// StopMonitor cancels the pending monitor timer.
func (s *Service) StopMonitor() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorTimer != nil {
		s.monitorTimer.Stop()
		s.monitorTimer = nil
	}
}

// KickMonitor forces an immediate evaluation, e.g. right after new positions
// were opened.
func (s *Service) KickMonitor() {
	s.scheduleMonitor(0)
}

// scheduleMonitor arms the single monitor timer, replacing any pending one.
func (s *Service) scheduleMonitor(d time.Duration) {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorCtx == nil || s.monitorCtx.Err() != nil {
		return
	}
	if s.monitorTimer != nil {
		s.monitorTimer.Stop()
	}
	s.monitorTimer = time.AfterFunc(d, s.monitorCycle)
}

// monitorCycle is the timer callback: evaluate every open position, then
// reschedule. A panic or cycle error never breaks the chain; the fallback
// delay keeps the monitor alive.
func (s *Service) monitorCycle() {
	s.monitorMu.Lock()
	ctx := s.monitorCtx
	s.monitorMu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	next := s.cfg.MonitorFallback
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("monitor cycle panic: %v", r)
			s.logger.Error(ctx, err, "Monitor cycle aborted by panic")
			if recErr := s.store.RecordError(ctx, err.Error(), "error"); recErr != nil {
				s.logger.Warn(ctx, "Failed to record monitor panic", map[string]interface{}{"error": recErr.Error()})
			}
		}
		s.scheduleMonitor(next)
	}()

	next = s.evaluatePositions(ctx)
}

// evaluatePositions runs one monitor pass and returns the delay until the
// next one.
func (s *Service) evaluatePositions(ctx context.Context) time.Duration {
	now := s.now().UTC()

	s.maybeSnapshot(ctx, now)

	positions, err := s.store.FindOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Could not load open positions")
		return s.cfg.MonitorFallback
	}
	if len(positions) == 0 {
		s.logger.Debug(ctx, "No open positions")
		return s.cfg.BaseCheckInterval
	}

	minHoursToExit := math.Inf(1)
	for _, pos := range positions {
		stillOpen := s.evaluatePosition(ctx, pos, now)
		if stillOpen {
			minHoursToExit = math.Min(minHoursToExit, pos.HoursToExit(now))
		}
	}

	if math.IsInf(minHoursToExit, 1) {
		// Everything just closed.
		return s.cfg.BaseCheckInterval
	}
	if minHoursToExit < 0 {
		minHoursToExit = 0
	}
	next := risk.NextCheckInterval(minHoursToExit, s.cfg.BaseCheckInterval, s.cfg.QuickCheckInterval, s.cfg.TimeToExitThreshold)
	s.logger.Debug(ctx, "Monitor cycle complete", map[string]interface{}{
		"openPositions":  len(positions),
		"minHoursToExit": minHoursToExit,
		"nextCheck":      next.String(),
	})
	return next
}

// evaluatePosition applies the exit rules to one position. Returns whether it
// is still open afterwards. Exit precedence: stop-loss, take-profit, expiry.
func (s *Service) evaluatePosition(ctx context.Context, pos *domain.Position, now time.Time) bool {
	price, err := s.currentPrice(ctx, pos.Symbol)
	if err != nil {
		// No price, no decision. The position is re-examined next cycle.
		s.logger.Warn(ctx, "Price unavailable, deferring position", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "error": err.Error(),
		})
		return true
	}

	if s.cfg.StopLossEnabled {
		stop := risk.StopLoss(pos.EntryPrice, price, pos.HoursHeld(now), s.cfg.StopLossThreshold)
		if price <= stop {
			s.closePosition(ctx, pos, price, domain.CloseReasonStopLoss)
			return false
		}
	}
	if pos.TakeProfit != nil && price >= *pos.TakeProfit {
		s.closePosition(ctx, pos, price, domain.CloseReasonTakeProfit)
		return false
	}
	if !now.Before(pos.ExitAt) {
		s.closePosition(ctx, pos, price, domain.CloseReasonTimeExpiry)
		return false
	}
	return true
}

// closePosition sells the position and records the realized result. The
// observed exit price (the fill, or the trigger price in dry-run) is
// authoritative for P&L.
func (s *Service) closePosition(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason) {
	exitPrice := price

	if s.cfg.DryRun {
		s.logger.Info(ctx, "[DRY] SELL", map[string]interface{}{
			"symbol": pos.Symbol, "quantity": pos.Quantity, "price": price, "reason": reason,
		})
	} else {
		order, err := retryValue(s, ctx, "market sell "+pos.Symbol, func(ctx context.Context) (*ports.OrderResponse, error) {
			return s.exchange.PlaceMarketSell(ctx, pos.Symbol, pos.Quantity)
		})
		if err != nil {
			// Sell failed terminally; keep the position open and try again next
			// cycle. The retrier already recorded and notified the failure.
			s.logger.Error(ctx, err, "Close order failed, position stays open", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "reason": reason,
			})
			return
		}
		if order.Price > 0 {
			exitPrice = order.Price
		}
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	pnlPercent := 0.0
	if pos.EntryPrice > 0 {
		pnlPercent = (exitPrice/pos.EntryPrice - 1) * 100
	}

	if err := s.store.Close(ctx, pos.ID, exitPrice, pnl, pnlPercent, reason); err != nil {
		if errors.Is(err, ports.ErrPositionClosed) {
			s.logger.Warn(ctx, "Position already closed, skipping", map[string]interface{}{"positionID": pos.ID})
			return
		}
		// The sell went through but the record did not. Log loudly; the P&L
		// numbers stay recoverable from the exchange history.
		s.logger.Error(ctx, err, "Failed to persist position close", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "exitPrice": exitPrice, "pnl": pnl,
		})
		if recErr := s.store.RecordError(ctx, fmt.Sprintf("close of position %d not persisted: %v", pos.ID, err), "error"); recErr != nil {
			s.logger.Warn(ctx, "Failed to record close failure", map[string]interface{}{"error": recErr.Error()})
		}
		return
	}

	s.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "reason": reason,
		"entryPrice": pos.EntryPrice, "exitPrice": exitPrice, "pnl": pnl, "pnlPercent": pnlPercent,
	})

	emoji := "✅"
	if pnl < 0 {
		emoji = "🔻"
	}
	level := ports.NotifyInfo
	if reason == domain.CloseReasonStopLoss {
		level = ports.NotifyWarning
	}
	s.notifier.Notify(ctx, fmt.Sprintf("%s Closed %s (%s): %.2f %s (%.2f%%)",
		emoji, pos.Symbol, reason, pnl, s.cfg.QuoteAsset, pnlPercent), level)
}

// maybeSnapshot records the trailing performance snapshot once per day,
// during the first cycle after midnight UTC.
func (s *Service) maybeSnapshot(ctx context.Context, now time.Time) {
	if now.Hour() != 0 {
		return
	}
	day := now.Format("2006-01-02")
	if s.lastSnapshotDay == day {
		return
	}

	stats, err := s.store.TrailingStats(ctx, s.cfg.SnapshotWindowDays)
	if err != nil {
		s.logger.Error(ctx, err, "Could not compute trailing stats")
		return
	}
	if err := s.store.RecordSnapshot(ctx, stats); err != nil {
		s.logger.Error(ctx, err, "Could not record performance snapshot")
		return
	}
	s.lastSnapshotDay = day

	s.logger.Info(ctx, "Performance snapshot recorded", map[string]interface{}{
		"windowDays": stats.WindowDays, "trades": stats.TradeCount,
		"winRate": stats.WinRate, "totalPNL": stats.TotalPNL,
	})
	if stats.TradeCount > 0 {
		s.notifier.Notify(ctx, fmt.Sprintf("📊 Last %dd: %d trades, %.0f%% win rate, P&L %.2f %s (avg hold %.1fh)",
			stats.WindowDays, stats.TradeCount, stats.WinRate*100, stats.TotalPNL, s.cfg.QuoteAsset, stats.AvgHoldHours), ports.NotifyInfo)
	}
}
