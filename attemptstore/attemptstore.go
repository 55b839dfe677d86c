// Package attemptstore implements the TradeAttempt audit log from spec
// §3/§7: the source of truth for the "no Position without persisted
// SUCCESS" invariant, and the safety-constraint queries (trades-this-hour,
// spent-today) the Trade Executor checks before every order. Grounded on
// the teacher's store/tactics.go persistence idiom.
//
// Spec §9's open question on today-spent/hourly-trade filtering is
// resolved here with strict createdAt predicates rather than the
// placeholder queries the source used.
package attemptstore

import (
	"context"
	"database/sql"
	"time"

	"mexcsniper/errkind"
)

// Side mirrors spec §3's TradeAttempt.side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType mirrors spec §3's TradeAttempt.type.
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// AttemptStatus mirrors spec §3's TradeAttempt.status.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "PENDING"
	StatusSuccess   AttemptStatus = "SUCCESS"
	StatusFailed    AttemptStatus = "FAILED"
	StatusCancelled AttemptStatus = "CANCELLED"
)

// TradeAttempt is spec §3's entity.
type TradeAttempt struct {
	ID               string
	Symbol           string
	Side             Side
	Type             OrderType
	Status           AttemptStatus
	RequestedQty     float64
	RequestedPrice   *float64
	ExecutedQty      *float64
	ExecutedPrice    *float64
	CreatedAt        time.Time
	CompletedAt      *time.Time
	ExecutionMs      int64
	ErrorMessage     string
	ParentTradeID    string
	PositionID       string
	SellReason       string
	ConfigurationID  string
	ListingEventID   string
	SnapshotOfConfig string
}

// Store is the SQLite-backed TradeAttempt audit log.
type Store struct {
	db *sql.DB
}

// New opens (or attaches to) db and ensures its schema exists.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trade_attempts (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			requested_qty REAL NOT NULL,
			requested_price REAL,
			executed_qty REAL,
			executed_price REAL,
			created_at DATETIME NOT NULL,
			completed_at DATETIME,
			execution_ms INTEGER DEFAULT 0,
			error_message TEXT,
			parent_trade_id TEXT,
			position_id TEXT,
			sell_reason TEXT,
			configuration_id TEXT,
			listing_event_id TEXT,
			snapshot_of_config TEXT
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_attempts_symbol ON trade_attempts(symbol)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_attempts_status_created ON trade_attempts(status, created_at)`)
	return nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// Insert persists a, failing if the id already exists so a duplicate
// SUCCESS attempt id is rejected with DUPLICATE_ATTEMPT per spec §8.
func (s *Store) Insert(ctx context.Context, a TradeAttempt) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM trade_attempts WHERE id = ?`, a.ID).Scan(&existing)
	if err == nil {
		return &errkind.Error{
			Kind:      errkind.KindTrading,
			Code:      errkind.CodeDuplicateAttempt,
			Message:   "trade attempt " + a.ID + " already recorded",
			Timestamp: a.CreatedAt,
		}
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trade_attempts (
			id, symbol, side, type, status, requested_qty, requested_price,
			executed_qty, executed_price, created_at, completed_at, execution_ms,
			error_message, parent_trade_id, position_id, sell_reason,
			configuration_id, listing_event_id, snapshot_of_config
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Symbol, string(a.Side), string(a.Type), string(a.Status), a.RequestedQty, a.RequestedPrice,
		a.ExecutedQty, a.ExecutedPrice, a.CreatedAt.UTC().Format(sqliteTimeLayout), nullableTime(a.CompletedAt), a.ExecutionMs,
		a.ErrorMessage, a.ParentTradeID, a.PositionID, a.SellReason, a.ConfigurationID, a.ListingEventID, a.SnapshotOfConfig)
	return err
}

// UpdateStatus transitions an existing attempt to a terminal status,
// recording the fill details or error.
func (s *Store) UpdateStatus(ctx context.Context, id string, status AttemptStatus, executedQty, executedPrice *float64, executionMs int64, errMsg string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_attempts SET status = ?, executed_qty = ?, executed_price = ?,
			execution_ms = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, string(status), executedQty, executedPrice, executionMs, errMsg, completedAt.UTC().Format(sqliteTimeLayout), id)
	return err
}

// SpentToday returns the quote-asset sum of today's SUCCESS BUY attempts
// for symbol's configuration, per spec §4.8's safety check, using a strict
// createdAt >= startOfToday(UTC) predicate per spec §9.
func (s *Store) SpentToday(ctx context.Context, configurationID string, now time.Time) (float64, error) {
	utcNow := now.UTC()
	startOfDay := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(executed_price * executed_qty) FROM trade_attempts
		WHERE configuration_id = ? AND side = 'BUY' AND status = 'SUCCESS' AND created_at >= ?
	`, configurationID, startOfDay.Format(sqliteTimeLayout)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// TradesThisHour returns the count of attempts created in the trailing
// hour for configurationID, using a strict createdAt >= now-1h predicate
// per spec §9.
func (s *Store) TradesThisHour(ctx context.Context, configurationID string, now time.Time) (int, error) {
	cutoff := now.Add(-time.Hour)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trade_attempts
		WHERE configuration_id = ? AND created_at >= ?
	`, configurationID, cutoff.UTC().Format(sqliteTimeLayout)).Scan(&count)
	return count, err
}

// Get returns the attempt for id, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id string) (*TradeAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, type, status, requested_qty, requested_price,
			executed_qty, executed_price, created_at, completed_at, execution_ms,
			error_message, parent_trade_id, position_id, sell_reason,
			configuration_id, listing_event_id, snapshot_of_config
		FROM trade_attempts WHERE id = ?
	`, id)
	var a TradeAttempt
	var side, typ, status, createdAt string
	var completedAt sql.NullString
	err := row.Scan(&a.ID, &a.Symbol, &side, &typ, &status, &a.RequestedQty, &a.RequestedPrice,
		&a.ExecutedQty, &a.ExecutedPrice, &createdAt, &completedAt, &a.ExecutionMs,
		&a.ErrorMessage, &a.ParentTradeID, &a.PositionID, &a.SellReason,
		&a.ConfigurationID, &a.ListingEventID, &a.SnapshotOfConfig)
	if err != nil {
		return nil, err
	}
	a.Side, a.Type, a.Status = Side(side), OrderType(typ), AttemptStatus(status)
	a.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(sqliteTimeLayout, completedAt.String)
		a.CompletedAt = &t
	}
	return &a, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}
