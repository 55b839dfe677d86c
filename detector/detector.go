// Package detector implements the three scanners from spec §4.5: the
// calendar, ticker-diff, and exchange-info feeds that the orchestrator
// fans out to every tick. Grounded on the RyanLisse sniper_service.go
// reference's caching idiom and newcoin_trader_service.go's scanning loop.
package detector

import (
	"context"
	"sort"
	"sync"
	"time"

	"mexcsniper/clock"
	"mexcsniper/exchange"
	"mexcsniper/signal"
)

// Scanner produces candidate listings for one detection source.
type Scanner interface {
	Scan(ctx context.Context) ([]signal.Candidate, error)
	Source() signal.Source

	// MinInterval is the minimum spacing spec §4.5 requires between
	// calls to this source, so the orchestrator can skip a tick that
	// falls inside the window rather than over-polling the exchange.
	MinInterval() time.Duration
}

// Per-source minimum poll spacing from spec §4.5: 30s for the calendar
// feed (the one fronted by the Cloudflare anti-bot page that spec §4.1's
// block-page handling exists to survive), 15s for ticker-diff, and 60s
// for exchange-info.
const (
	CalendarMinInterval     = 30 * time.Second
	TickerDiffMinInterval   = 15 * time.Second
	ExchangeInfoMinInterval = 60 * time.Second
)

// CalendarScanner wraps exchange.Client.GetCalendar with normalization
// into signal.Candidate, per spec §4.5's highest-authority source.
type CalendarScanner struct {
	client exchange.Client
	clock  clock.Clock
}

// NewCalendarScanner builds a CalendarScanner.
func NewCalendarScanner(client exchange.Client, clk clock.Clock) *CalendarScanner {
	return &CalendarScanner{client: client, clock: clk}
}

func (s *CalendarScanner) Source() signal.Source { return signal.SourceCalendar }

func (s *CalendarScanner) MinInterval() time.Duration { return CalendarMinInterval }

// Scan fetches the calendar and returns a candidate per entry with a
// positive firstOpenTime. A calendar failure already degrades to an empty
// list inside exchange.Client, so Scan never needs to swallow errors
// itself; it returns err only if the exchange client still raised one.
func (s *CalendarScanner) Scan(ctx context.Context) ([]signal.Candidate, error) {
	entries, err := s.client.GetCalendar(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]signal.Candidate, 0, len(entries))
	for _, e := range entries {
		if e.FirstOpenTime <= 0 {
			continue
		}
		listingTime := time.UnixMilli(e.FirstOpenTime)
		out = append(out, signal.Candidate{
			Symbol:      signal.NormalizeSymbol(e.Symbol),
			Source:      signal.SourceCalendar,
			ListingTime: &listingTime,
			Confidence:  signal.ConfidenceHigh,
			DetectedAt:  now,
		})
	}
	return out, nil
}

// TickerDiffScanner maintains the previously-seen USDT universe and emits
// only newly-appeared symbols, per spec §4.5. The first tick after
// startup only populates the baseline and emits nothing.
type TickerDiffScanner struct {
	client exchange.Client
	clock  clock.Clock

	mu   sync.Mutex
	seen map[string]struct{}
	init bool
}

// NewTickerDiffScanner builds a TickerDiffScanner.
func NewTickerDiffScanner(client exchange.Client, clk clock.Clock) *TickerDiffScanner {
	return &TickerDiffScanner{client: client, clock: clk, seen: map[string]struct{}{}}
}

func (s *TickerDiffScanner) Source() signal.Source { return signal.SourceTickerDiff }

func (s *TickerDiffScanner) MinInterval() time.Duration { return TickerDiffMinInterval }

// Scan implements the baseline-then-diff semantics from spec §4.5 and §8
// scenario 5.
func (s *TickerDiffScanner) Scan(ctx context.Context) ([]signal.Candidate, error) {
	tickers, err := s.client.GetTicker24hr(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		sym := signal.NormalizeSymbol(t.Symbol)
		if len(sym) < 4 || sym[len(sym)-4:] != "USDT" {
			continue
		}
		current[sym] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.init {
		s.seen = current
		s.init = true
		return nil, nil
	}

	now := s.clock.Now()
	var newSymbols []string
	for sym := range current {
		if _, ok := s.seen[sym]; !ok {
			newSymbols = append(newSymbols, sym)
		}
	}
	sort.Strings(newSymbols)
	s.seen = current

	out := make([]signal.Candidate, 0, len(newSymbols))
	for _, sym := range newSymbols {
		out = append(out, signal.Candidate{
			Symbol:     sym,
			Source:     signal.SourceTickerDiff,
			Confidence: signal.ConfidenceMedium,
			DetectedAt: now,
		})
	}
	return out, nil
}

// ExchangeInfoScanner treats the symbolsv2 layer as an alias of the
// exchange-info scanner per spec §9's open-question resolution, filtering
// by status==ENABLED (the TRADING-equivalent status on this venue).
type ExchangeInfoScanner struct {
	client exchange.Client
	clock  clock.Clock

	mu   sync.Mutex
	seen map[string]struct{}
	init bool
}

// NewExchangeInfoScanner builds an ExchangeInfoScanner.
func NewExchangeInfoScanner(client exchange.Client, clk clock.Clock) *ExchangeInfoScanner {
	return &ExchangeInfoScanner{client: client, clock: clk, seen: map[string]struct{}{}}
}

func (s *ExchangeInfoScanner) Source() signal.Source { return signal.SourceExchangeInfo }

func (s *ExchangeInfoScanner) MinInterval() time.Duration { return ExchangeInfoMinInterval }

// Scan diffs the set of ENABLED symbols against the previous tick, the
// same baseline-then-diff shape as the ticker-diff scanner, since the
// exchange-info feed has no "recently listed" marker of its own.
func (s *ExchangeInfoScanner) Scan(ctx context.Context) ([]signal.Candidate, error) {
	info, err := s.client.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status != "ENABLED" {
			continue
		}
		current[signal.NormalizeSymbol(sym.Symbol)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.init {
		s.seen = current
		s.init = true
		return nil, nil
	}

	now := s.clock.Now()
	var newSymbols []string
	for sym := range current {
		if _, ok := s.seen[sym]; !ok {
			newSymbols = append(newSymbols, sym)
		}
	}
	sort.Strings(newSymbols)
	s.seen = current

	out := make([]signal.Candidate, 0, len(newSymbols))
	for _, sym := range newSymbols {
		out = append(out, signal.Candidate{
			Symbol:     sym,
			Source:     signal.SourceExchangeInfo,
			Confidence: signal.ConfidenceMedium,
			DetectedAt: now,
		})
	}
	return out, nil
}
