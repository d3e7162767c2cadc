package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"volumebot/internal/domain"
	"volumebot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the ports.PositionStore interface using SQLite.
type Store struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore creates a new SQLite store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/volumebot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	store := &Store{db: db, logger: cfg.Logger, now: time.Now}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return store, nil
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		entry_amount REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		exit_at TIMESTAMP NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL DEFAULT NULL,
		status TEXT NOT NULL,
		close_reason TEXT NOT NULL DEFAULT 'none',
		pnl REAL DEFAULT NULL,
		pnl_percent REAL DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS performance_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		window_days INTEGER NOT NULL,
		trade_count INTEGER NOT NULL,
		win_count INTEGER NOT NULL,
		loss_count INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		total_pnl REAL NOT NULL,
		avg_win REAL NOT NULL,
		avg_loss REAL NOT NULL,
		avg_hold_hours REAL NOT NULL,
		taken_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS error_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	CREATE INDEX IF NOT EXISTS idx_positions_status_exit_at ON positions (status, exit_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON performance_snapshots (taken_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// CloseDB closes the database connection.
func (s *Store) CloseDB() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite database connection")
		return s.db.Close()
	}
	return nil
}

// --- PositionStore Implementation ---

const positionColumns = `
	id, symbol, side, quantity, entry_price, entry_amount, COALESCE(exit_price, 0),
	exit_at, stop_loss, take_profit, status, close_reason, COALESCE(pnl, 0),
	COALESCE(pnl_percent, 0), created_at, updated_at, closed_at`

// Create saves a new position and returns its assigned ID.
func (s *Store) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, quantity, entry_price, entry_amount, exit_at,
	                       stop_loss, take_profit, status, close_reason, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now().UTC()
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = now
	}
	pos.UpdatedAt = now
	if pos.Status == "" {
		pos.Status = domain.StatusOpen
	}
	if pos.CloseReason == "" {
		pos.CloseReason = domain.CloseReasonNone
	}

	var takeProfit sql.NullFloat64
	if pos.TakeProfit != nil {
		takeProfit = sql.NullFloat64{Float64: *pos.TakeProfit, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.EntryAmount, pos.ExitAt,
		pos.StopLoss, takeProfit, pos.Status, pos.CloseReason, pos.CreatedAt, pos.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	s.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// FindOpen retrieves all currently open positions, oldest first.
func (s *Store) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY created_at ASC`
	return s.queryPositions(ctx, query, domain.StatusOpen)
}

// FindDue retrieves open positions whose planned exit time is at or before now.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? AND exit_at <= ? ORDER BY exit_at ASC`
	return s.queryPositions(ctx, query, domain.StatusOpen, now.UTC())
}

// FindExpiringWithin retrieves open positions due within the given number of hours.
func (s *Store) FindExpiringWithin(ctx context.Context, hours float64) ([]*domain.Position, error) {
	cutoff := s.now().UTC().Add(time.Duration(hours * float64(time.Hour)))
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? AND exit_at <= ? ORDER BY exit_at ASC`
	return s.queryPositions(ctx, query, domain.StatusOpen, cutoff)
}

// Close marks an open position closed with the realized result. The status
// guard in the WHERE clause makes a double close a no-op that reports
// ErrPositionClosed instead of overwriting the recorded P&L.
func (s *Store) Close(ctx context.Context, id int64, exitPrice, pnl, pnlPercent float64, reason domain.CloseReason) error {
	const query = `
	UPDATE positions
	SET status = ?, exit_price = ?, pnl = ?, pnl_percent = ?, close_reason = ?,
	    closed_at = ?, updated_at = ?
	WHERE id = ? AND status = ?`

	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		domain.StatusClosed, exitPrice, pnl, pnlPercent, reason, now, now,
		id, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close position ID %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for close of position ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d is not open: %w", id, ports.ErrPositionClosed)
	}
	s.logger.Debug(ctx, "Position closed", map[string]interface{}{
		"positionID": id, "exitPrice": exitPrice, "pnl": pnl, "reason": reason,
	})
	return nil
}

// TrailingStats aggregates closed positions over the trailing window.
func (s *Store) TrailingStats(ctx context.Context, days int) (*domain.TradingStats, error) {
	const query = `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(pnl), 0),
	       COALESCE(AVG(CASE WHEN pnl > 0 THEN pnl END), 0),
	       COALESCE(AVG(CASE WHEN pnl <= 0 THEN pnl END), 0),
	       COALESCE(AVG((julianday(closed_at) - julianday(created_at)) * 24), 0)
	FROM positions
	WHERE status = ? AND closed_at >= ?`

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	stats := &domain.TradingStats{WindowDays: days, TakenAt: s.now().UTC()}
	err := s.db.QueryRowContext(ctx, query, domain.StatusClosed, cutoff).Scan(
		&stats.TradeCount, &stats.WinCount, &stats.TotalPNL,
		&stats.AvgWin, &stats.AvgLoss, &stats.AvgHoldHours)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trailing stats over %d days: %w", days, err)
	}
	stats.LossCount = stats.TradeCount - stats.WinCount
	if stats.TradeCount > 0 {
		stats.WinRate = float64(stats.WinCount) / float64(stats.TradeCount)
	}
	return stats, nil
}

// RecordSnapshot persists a daily performance snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, stats *domain.TradingStats) error {
	const query = `
	INSERT INTO performance_snapshots (window_days, trade_count, win_count, loss_count,
	                                   win_rate, total_pnl, avg_win, avg_loss, avg_hold_hours, taken_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	takenAt := stats.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		stats.WindowDays, stats.TradeCount, stats.WinCount, stats.LossCount,
		stats.WinRate, stats.TotalPNL, stats.AvgWin, stats.AvgLoss, stats.AvgHoldHours, takenAt)
	if err != nil {
		return fmt.Errorf("failed to insert performance snapshot: %w", err)
	}
	return nil
}

// RecordError durably records an operational failure.
func (s *Store) RecordError(ctx context.Context, message string, severity string) error {
	const query = `INSERT INTO error_log (message, severity, occurred_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, message, severity, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert error log entry: %w", err)
	}
	return nil
}

// --- Helpers ---

func (s *Store) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(sc scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status, closeReason string
	var takeProfit sql.NullFloat64
	var closedAt sql.NullTime
	err := sc.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.EntryAmount, &p.ExitPrice,
		&p.ExitAt, &p.StopLoss, &takeProfit, &status, &closeReason, &p.PNL,
		&p.PNLPercent, &p.CreatedAt, &p.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(closeReason)
	if takeProfit.Valid {
		tp := takeProfit.Float64
		p.TakeProfit = &tp
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}

var _ ports.PositionStore = (*Store)(nil)
