// Package tradeconfig implements SQLite-backed CRUD for
// TradingConfiguration (spec §3), grounded on the teacher's
// store/tactics.go table-and-index idiom, enforcing "at most one
// isActive per userId" with an application-level toggle matching the
// teacher's SetActive/Deactivate pattern.
package tradeconfig

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SellStrategy mirrors spec §3's sellStrategy enum.
type SellStrategy string

const (
	StrategyProfitTarget SellStrategy = "PROFIT_TARGET"
	StrategyStopLoss     SellStrategy = "STOP_LOSS"
	StrategyTimeBased    SellStrategy = "TIME_BASED"
	StrategyTrailingStop SellStrategy = "TRAILING_STOP"
	StrategyCombined     SellStrategy = "COMBINED"
)

// Configuration is spec §3's TradingConfiguration entity.
type Configuration struct {
	ID                   string
	UserID               string
	Symbols              []string
	PerTradeQuote        float64
	MaxPurchase          float64
	DailySpendLimit      float64
	MaxTradesPerHour     int
	PollingIntervalMs    int
	OrderTimeoutMs       int
	PriceToleranceBps    float64
	SafetyEnabled        bool
	ProfitTargetBps      float64
	StopLossBps          float64
	TimeBasedExitMinutes int
	TrailingStopBps      float64
	SellStrategy         SellStrategy
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate enforces spec §3's invariants.
func (c Configuration) Validate() error {
	if c.PerTradeQuote > c.DailySpendLimit {
		return fmt.Errorf("perTradeQuote %.8f exceeds dailySpendLimit %.8f", c.PerTradeQuote, c.DailySpendLimit)
	}
	if c.PollingIntervalMs < 1000 {
		return fmt.Errorf("pollingInterval must be >= 1000ms, got %d", c.PollingIntervalMs)
	}
	if c.OrderTimeoutMs < 5000 {
		return fmt.Errorf("orderTimeout must be >= 5000ms, got %d", c.OrderTimeoutMs)
	}
	if c.PriceToleranceBps < 0.1 || c.PriceToleranceBps > 50 {
		return fmt.Errorf("priceTolerance must be in [0.1, 50] bps, got %.4f", c.PriceToleranceBps)
	}
	return nil
}

// Store is the SQLite-backed persistence layer.
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
		CREATE TABLE IF NOT EXISTS trading_configurations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbols TEXT NOT NULL DEFAULT '[]',
			per_trade_quote REAL NOT NULL,
			max_purchase REAL NOT NULL DEFAULT 0,
			daily_spend_limit REAL NOT NULL,
			max_trades_per_hour INTEGER NOT NULL DEFAULT 10,
			polling_interval_ms INTEGER NOT NULL DEFAULT 5000,
			order_timeout_ms INTEGER NOT NULL DEFAULT 5000,
			price_tolerance_bps REAL NOT NULL DEFAULT 100,
			safety_enabled BOOLEAN NOT NULL DEFAULT 1,
			profit_target_bps REAL DEFAULT 0,
			stop_loss_bps REAL DEFAULT 0,
			time_based_exit_minutes INTEGER DEFAULT 0,
			trailing_stop_bps REAL DEFAULT 0,
			sell_strategy TEXT DEFAULT 'PROFIT_TARGET',
			is_active BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trading_configurations_user_id ON trading_configurations(user_id)`)
	_, _ = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_trading_configurations_active_per_user ON trading_configurations(user_id) WHERE is_active = 1`)
	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_trading_configurations_updated_at
		AFTER UPDATE ON trading_configurations
		BEGIN
			UPDATE trading_configurations SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)
	return err
}

// Create inserts c, enforcing Validate first.
func (s *Store) Create(ctx context.Context, c Configuration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	symbolsJSON, err := marshalSymbols(c.Symbols)
	if err != nil {
		return err
	}
	if c.IsActive {
		if _, err := s.db.ExecContext(ctx, `UPDATE trading_configurations SET is_active = 0 WHERE user_id = ?`, c.UserID); err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trading_configurations (
			id, user_id, symbols, per_trade_quote, max_purchase, daily_spend_limit,
			max_trades_per_hour, polling_interval_ms, order_timeout_ms, price_tolerance_bps,
			safety_enabled, profit_target_bps, stop_loss_bps, time_based_exit_minutes,
			trailing_stop_bps, sell_strategy, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, symbolsJSON, c.PerTradeQuote, c.MaxPurchase, c.DailySpendLimit,
		c.MaxTradesPerHour, c.PollingIntervalMs, c.OrderTimeoutMs, c.PriceToleranceBps,
		c.SafetyEnabled, c.ProfitTargetBps, c.StopLossBps, c.TimeBasedExitMinutes,
		c.TrailingStopBps, string(c.SellStrategy), c.IsActive)
	return err
}

// GetActive returns userId's single active configuration, if any.
func (s *Store) GetActive(ctx context.Context, userID string) (*Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbols, per_trade_quote, max_purchase, daily_spend_limit,
			max_trades_per_hour, polling_interval_ms, order_timeout_ms, price_tolerance_bps,
			safety_enabled, profit_target_bps, stop_loss_bps, time_based_exit_minutes,
			trailing_stop_bps, sell_strategy, is_active, created_at, updated_at
		FROM trading_configurations WHERE user_id = ? AND is_active = 1
	`, userID)
	return scanConfiguration(row)
}

func scanConfiguration(row *sql.Row) (*Configuration, error) {
	var c Configuration
	var symbolsJSON, sellStrategy, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &symbolsJSON, &c.PerTradeQuote, &c.MaxPurchase, &c.DailySpendLimit,
		&c.MaxTradesPerHour, &c.PollingIntervalMs, &c.OrderTimeoutMs, &c.PriceToleranceBps,
		&c.SafetyEnabled, &c.ProfitTargetBps, &c.StopLossBps, &c.TimeBasedExitMinutes,
		&c.TrailingStopBps, &sellStrategy, &c.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.SellStrategy = SellStrategy(sellStrategy)
	c.Symbols, err = unmarshalSymbols(symbolsJSON)
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	c.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &c, nil
}
