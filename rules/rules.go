// Package rules implements the Exchange-Rules Cache from spec §4.2: a
// copy-on-refresh, time-bounded cache of per-symbol lot/tick/notional
// filters, adapted from the teacher's store/strategy.go copy-on-refresh
// JSON-config caching idiom.
package rules

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mexcsniper/clock"
	"mexcsniper/exchange"
)

// Rules is a single symbol's legal trading granularities from spec §3's
// ValidationRules entity.
type Rules struct {
	Symbol      string
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	MinNotional float64
	TickSize    float64
	BaseAsset   string
	QuoteAsset  string
	Status      string
}

// Enabled reports whether the symbol is currently tradable.
func (r Rules) Enabled() bool { return r.Status == "ENABLED" }

// snapshot is the copy-on-refresh payload readers see atomically.
type snapshot struct {
	bySymbol  map[string]Rules
	updatedAt time.Time
}

// Cache is process-wide and safe for concurrent use; readers always see a
// complete old or new snapshot, never a torn map, per spec §5.
type Cache struct {
	client exchange.Client
	clock  clock.Clock
	ttl    time.Duration

	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes concurrent refreshes
}

// New builds a Cache with the spec §3 default TTL of 3600s.
func New(client exchange.Client, clk clock.Clock) *Cache {
	c := &Cache{client: client, clock: clk, ttl: 3600 * time.Second}
	c.current.Store(&snapshot{bySymbol: map[string]Rules{}})
	return c
}

// LoadRules refreshes the cache when (now - lastUpdate) > TTL or the cache
// is empty, per spec §4.2.
func (c *Cache) LoadRules(ctx context.Context) error {
	snap := c.current.Load()
	if len(snap.bySymbol) > 0 && c.clock.Now().Sub(snap.updatedAt) <= c.ttl {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check after acquiring the lock: another goroutine may have
	// refreshed while we waited.
	snap = c.current.Load()
	if len(snap.bySymbol) > 0 && c.clock.Now().Sub(snap.updatedAt) <= c.ttl {
		return nil
	}

	info, err := c.client.GetExchangeInfo(ctx)
	if err != nil {
		return err
	}

	next := &snapshot{bySymbol: make(map[string]Rules, len(info.Symbols)), updatedAt: c.clock.Now()}
	for _, s := range info.Symbols {
		next.bySymbol[s.Symbol] = parseSymbolInfo(s)
	}
	c.current.Store(next)
	return nil
}

func parseSymbolInfo(s exchange.SymbolInfo) Rules {
	r := Rules{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Status:     s.Status,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			r.MinQty = parseFloat(f.MinQty)
			r.MaxQty = parseFloat(f.MaxQty)
			r.StepSize = parseFloat(f.StepSize)
		case "MIN_NOTIONAL":
			r.MinNotional = parseFloat(f.MinNotional)
		case "PRICE_FILTER":
			r.TickSize = parseFloat(f.TickSize)
		}
	}
	return r
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetRules returns the cached rules for symbol and whether they exist.
func (c *Cache) GetRules(symbol string) (Rules, bool) {
	snap := c.current.Load()
	r, ok := snap.bySymbol[symbol]
	return r, ok
}

// AdjustQuantity rounds qty down to the nearest legal multiple of
// stepSize. Idempotent: AdjustQuantity(AdjustQuantity(q)) == AdjustQuantity(q).
func AdjustQuantity(qty, stepSize float64) float64 {
	if stepSize <= 0 {
		return qty
	}
	steps := math.Floor(qty/stepSize + 1e-9)
	return roundTo(steps*stepSize, stepSize)
}

// AdjustPrice rounds price down to the nearest legal multiple of tickSize.
// Idempotent for the same reason as AdjustQuantity.
func AdjustPrice(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	steps := math.Floor(price/tickSize + 1e-9)
	return roundTo(steps*tickSize, tickSize)
}

// roundTo trims floating-point noise introduced by repeated division by
// suppressing digits finer than the granularity unit itself.
func roundTo(v, unit float64) float64 {
	if unit == 0 {
		return v
	}
	precision := decimalsFor(unit)
	mult := math.Pow(10, float64(precision))
	return math.Round(v*mult) / mult
}

func decimalsFor(unit float64) int {
	s := strconv.FormatFloat(unit, 'f', -1, 64)
	for i, c := range s {
		if c == '.' {
			return len(s) - i - 1
		}
	}
	return 0
}
