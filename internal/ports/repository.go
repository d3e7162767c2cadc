package ports

import (
	"context"
	"time"

	"volumebot/internal/domain"
)

// PositionStore defines the interface for persisting trade records and
// operational bookkeeping. Positions are append-only: they are never deleted,
// only marked closed, so closed rows double as the audit trail.
type PositionStore interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// FindOpen retrieves all currently open positions.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindDue retrieves open positions whose planned exit time is at or before now.
	FindDue(ctx context.Context, now time.Time) ([]*domain.Position, error)
	// FindExpiringWithin retrieves open positions due within the given number of hours.
	FindExpiringWithin(ctx context.Context, hours float64) ([]*domain.Position, error)
	// Close marks an open position closed with the realized result. Closing an
	// already-closed position returns ErrPositionClosed and changes nothing.
	Close(ctx context.Context, id int64, exitPrice, pnl, pnlPercent float64, reason domain.CloseReason) error
	// TrailingStats aggregates closed positions over the trailing window.
	TrailingStats(ctx context.Context, days int) (*domain.TradingStats, error)
	// RecordSnapshot persists a daily performance snapshot.
	RecordSnapshot(ctx context.Context, stats *domain.TradingStats) error
	// RecordError durably records an operational failure.
	RecordError(ctx context.Context, message string, severity string) error
}
