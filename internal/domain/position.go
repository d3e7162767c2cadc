package domain

import "time"

// Position represents a long position held by the bot.
// Quantity, entry price and entry amount are fixed at creation; the stored
// stop-loss is the static floor computed at entry, while the effective
// stop-loss is re-derived dynamically at every evaluation.
type Position struct {
	ID          int64          // Unique identifier (assigned by the store)
	Symbol      string         // Trading symbol (e.g., "BTCUSDT")
	Side        OrderSide      // Always Buy for this strategy
	Quantity    float64        // Base-asset size of the position
	EntryPrice  float64        // Price at which the position was entered
	EntryAmount float64        // Quote-asset amount committed at entry
	ExitPrice   float64        // Price at which the position was exited (0 if open)
	ExitAt      time.Time      // Planned exit time (entry + hold hours)
	StopLoss    float64        // Static stop-loss floor recorded at entry
	TakeProfit  *float64       // Optional take-profit price (nil when disabled)
	Status      PositionStatus // open or closed
	CloseReason CloseReason    // Why the position was closed (none while open)
	PNL         float64        // Realized profit/loss in quote asset (set on close)
	PNLPercent  float64        // Realized profit/loss percentage (set on close)
	CreatedAt   time.Time      // When the position was opened
	UpdatedAt   time.Time      // Last mutation timestamp
	ClosedAt    time.Time      // When the position was closed (zero while open)
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// HoursHeld returns how long the position has been open, in hours.
func (p *Position) HoursHeld(now time.Time) float64 {
	return now.Sub(p.CreatedAt).Hours()
}

// HoursToExit returns the remaining time until the planned exit, in hours.
// Negative values mean the position is past due.
func (p *Position) HoursToExit(now time.Time) float64 {
	return p.ExitAt.Sub(now).Hours()
}
