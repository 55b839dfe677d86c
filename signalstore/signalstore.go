// Package signalstore implements signal.Store and ListingEvent persistence
// on SQLite, grounded on the teacher's store/tactics.go CREATE-TABLE/
// CREATE-INDEX idiom.
package signalstore

import (
	"context"
	"database/sql"
	"time"

	"mexcsniper/signal"
)

// Store is the SQLite-backed implementation of signal.Store plus the
// ListingEvent audit log from spec §3.
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
		CREATE TABLE IF NOT EXISTS listing_signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence TEXT NOT NULL,
			state TEXT NOT NULL,
			listing_time DATETIME,
			detected_at DATETIME NOT NULL,
			freshness_deadline DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_listing_signals_symbol_source ON listing_signals(symbol, source, detected_at)`)

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS listing_events (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			base_asset TEXT NOT NULL,
			quote_asset TEXT NOT NULL,
			listing_time DATETIME,
			vcoin_id TEXT,
			project_name TEXT,
			detection_method TEXT NOT NULL,
			initial_price REAL,
			detected_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_listing_events_symbol ON listing_events(symbol)`)
	return nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// FindWithin implements signal.Store.
func (s *Store) FindWithin(ctx context.Context, symbol string, source signal.Source, now time.Time, window time.Duration) (bool, error) {
	var count int
	cutoff := now.Add(-window)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM listing_signals
		WHERE symbol = ? AND source = ? AND detected_at >= ?
	`, symbol, string(source), cutoff.UTC().Format(sqliteTimeLayout)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save implements signal.Store.
func (s *Store) Save(ctx context.Context, sig signal.ListingSignal) error {
	var listingTime any
	if sig.ListingTime != nil {
		listingTime = sig.ListingTime.UTC().Format(sqliteTimeLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_signals (id, symbol, source, confidence, state, listing_time, detected_at, freshness_deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Symbol, string(sig.Source), string(sig.Confidence), string(sig.State),
		listingTime, sig.DetectedAt.UTC().Format(sqliteTimeLayout), sig.FreshnessDeadline.UTC().Format(sqliteTimeLayout))
	return err
}

// ListingEvent is spec §3's persisted entity.
type ListingEvent struct {
	ID               string
	Symbol           string
	BaseAsset        string
	QuoteAsset       string
	ListingTime      *time.Time
	VcoinID          string
	ProjectName      string
	DetectionMethod  string
	InitialPrice     *float64
	DetectedAt       time.Time
	ExpiresAt        time.Time
}

// SaveEvent persists a ListingEvent, defaulting ExpiresAt to detectedAt+24h
// per spec §3 unless the caller already set it.
func (s *Store) SaveEvent(ctx context.Context, e ListingEvent) error {
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.DetectedAt.Add(24 * time.Hour)
	}
	var listingTime, initialPrice any
	if e.ListingTime != nil {
		listingTime = e.ListingTime.UTC().Format(sqliteTimeLayout)
	}
	if e.InitialPrice != nil {
		initialPrice = *e.InitialPrice
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_events (id, symbol, base_asset, quote_asset, listing_time, vcoin_id, project_name, detection_method, initial_price, detected_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Symbol, e.BaseAsset, e.QuoteAsset, listingTime, e.VcoinID, e.ProjectName, e.DetectionMethod, initialPrice,
		e.DetectedAt.UTC().Format(sqliteTimeLayout), e.ExpiresAt.UTC().Format(sqliteTimeLayout))
	return err
}
