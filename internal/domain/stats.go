package domain

import "time"

// TradingStats is a read-only aggregate over closed positions in a trailing
// window. Persisted once per day as a performance snapshot.
type TradingStats struct {
	WindowDays   int       // Trailing window length in days
	TradeCount   int       // Closed positions in the window
	WinCount     int       // Positions with positive P&L
	LossCount    int       // Positions with zero or negative P&L
	WinRate      float64   // WinCount / TradeCount (0 when no trades)
	TotalPNL     float64   // Sum of realized P&L
	AvgWin       float64   // Average P&L of winning positions
	AvgLoss      float64   // Average P&L of losing positions
	AvgHoldHours float64   // Average holding time in hours
	TakenAt      time.Time // When the snapshot was computed
}
