// Package position implements the Position Tracker from spec §4.9: an
// in-memory map keyed by symbol with symbol-keyed fine-grained mutual
// exclusion, per spec §5, grounded on the teacher's per-key-lock idiom
// in auto_trader.go's peak-PnL cache.
package position

import (
	"sync"
	"time"

	"mexcsniper/errkind"
)

// Position is spec §3's entity.
type Position struct {
	Symbol               string
	Quantity             float64
	EntryPrice           float64
	EntryTime            time.Time
	BuyOrderID           int64
	TradeAttemptID       string
	CurrentPrice         float64
	PriceUpdatedAt       time.Time
	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
	HighWaterMark        float64
}

type entry struct {
	mu  sync.Mutex
	pos Position
}

// Tracker owns all Position state. The executor and sell engine mutate it
// only through this interface, per spec §3's ownership rule.
type Tracker struct {
	mu   sync.RWMutex
	byID map[string]*entry
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{byID: map[string]*entry{}}
}

// Open creates a Position on successful BUY. It returns NO_OPEN_POSITION's
// sibling error if a position for symbol already exists, since spec §3
// allows at most one open position per symbol.
func (t *Tracker) Open(p Position, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[p.Symbol]; exists {
		return &errkind.Error{
			Kind:      errkind.KindTrading,
			Code:      "POSITION_ALREADY_OPEN",
			Message:   "position already open for " + p.Symbol,
			Timestamp: now,
		}
	}
	p.HighWaterMark = p.EntryPrice
	t.byID[p.Symbol] = &entry{pos: p}
	return nil
}

// Get returns a copy of the position for symbol, if any.
func (t *Tracker) Get(symbol string) (Position, bool) {
	t.mu.RLock()
	e, ok := t.byID[symbol]
	t.mu.RUnlock()
	if !ok {
		return Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// List returns a snapshot of all open positions.
func (t *Tracker) List() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.byID))
	for _, e := range t.byID {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	return out
}

// Update mutates fields of the position for symbol under its per-symbol
// lock via mutate, a read-modify-write callback.
func (t *Tracker) Update(symbol string, mutate func(p *Position)) bool {
	t.mu.RLock()
	e, ok := t.byID[symbol]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	mutate(&e.pos)
	return true
}

// ReduceOrClose reduces the position's quantity by qty, closing (removing)
// it entirely if the remaining quantity is at or below a dust epsilon.
// Returns the resulting quantity and whether the position was closed.
func (t *Tracker) ReduceOrClose(symbol string, qty float64) (remaining float64, closed bool, ok bool) {
	t.mu.Lock()
	e, exists := t.byID[symbol]
	if !exists {
		t.mu.Unlock()
		return 0, false, false
	}
	e.mu.Lock()
	e.pos.Quantity -= qty
	remaining = e.pos.Quantity
	e.mu.Unlock()

	const dust = 1e-9
	if remaining <= dust {
		delete(t.byID, symbol)
		closed = true
	}
	t.mu.Unlock()
	return remaining, closed, true
}

// MarkToMarket updates CurrentPrice, UnrealizedPnL, and HighWaterMark for
// every symbol present in prices.
func (t *Tracker) MarkToMarket(prices map[string]float64, now time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for symbol, price := range prices {
		e, ok := t.byID[symbol]
		if !ok {
			continue
		}
		e.mu.Lock()
		e.pos.CurrentPrice = price
		e.pos.PriceUpdatedAt = now
		e.pos.UnrealizedPnL = (price - e.pos.EntryPrice) * e.pos.Quantity
		if e.pos.EntryPrice != 0 {
			e.pos.UnrealizedPnLPercent = (price - e.pos.EntryPrice) / e.pos.EntryPrice * 100
		}
		if price > e.pos.HighWaterMark {
			e.pos.HighWaterMark = price
		}
		e.mu.Unlock()
	}
}
