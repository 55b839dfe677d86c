package signalstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"mexcsniper/signal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_FindWithinFindsRecentSignalInWindow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sig := signal.NewSignal("sig-1", "FOOUSDT", signal.SourceCalendar, nil, signal.ConfidenceHigh, now)
	require.NoError(t, s.Save(context.Background(), sig))

	found, err := s.FindWithin(context.Background(), "FOOUSDT", signal.SourceCalendar, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_FindWithinMissesOutsideWindow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sig := signal.NewSignal("sig-1", "FOOUSDT", signal.SourceCalendar, nil, signal.ConfidenceHigh, now)
	require.NoError(t, s.Save(context.Background(), sig))

	found, err := s.FindWithin(context.Background(), "FOOUSDT", signal.SourceCalendar, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_FindWithinDistinguishesSource(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sig := signal.NewSignal("sig-1", "FOOUSDT", signal.SourceCalendar, nil, signal.ConfidenceHigh, now)
	require.NoError(t, s.Save(context.Background(), sig))

	found, err := s.FindWithin(context.Background(), "FOOUSDT", signal.SourceTickerDiff, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, found, "a signal recorded under one source must not dedup against a different source")
}

func TestStore_SaveEventDefaultsExpiresAt(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	e := ListingEvent{ID: "evt-1", Symbol: "FOOUSDT", BaseAsset: "FOO", QuoteAsset: "USDT", DetectionMethod: "calendar", DetectedAt: now}
	require.NoError(t, s.SaveEvent(context.Background(), e))

	var expiresAt string
	row := s.db.QueryRow(`SELECT expires_at FROM listing_events WHERE id = ?`, "evt-1")
	require.NoError(t, row.Scan(&expiresAt))

	parsed, err := time.Parse(sqliteTimeLayout, expiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(24*time.Hour), parsed, time.Second)
}
