package risk

import (
	"sync"
	"time"
)

// Ledger tracks today's realized PnL, the daily ledger spec §4.8's SELL
// path records into and §4.4's validateOrder reads from.
type Ledger struct {
	mu   sync.Mutex
	day  time.Time
	pnl  float64
}

// NewLedger builds an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// RecordRealizedPnL adds pnl to today's running total, resetting the
// accumulator if now has rolled over to a new UTC day.
func (l *Ledger) RecordRealizedPnL(now time.Time, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)
	l.pnl += pnl
}

// DailyPnL returns today's running realized PnL.
func (l *Ledger) DailyPnL(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)
	return l.pnl
}

func (l *Ledger) rolloverLocked(now time.Time) {
	utcNow := now.UTC()
	day := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
	if !l.day.Equal(day) {
		l.day = day
		l.pnl = 0
	}
}
