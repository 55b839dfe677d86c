// Package signal implements spec §4.5/§3's ListingSignal lifecycle: the
// shared entity type, the Deduplicator that suppresses repeats inside a
// window, and the RecvWindow Validator that gates freshness.
package signal

import (
	"context"
	"strings"
	"time"
)

// Source ranks detection provenance; higher Authority wins merge ties.
type Source string

const (
	SourceCalendar     Source = "calendar"
	SourceTickerDiff   Source = "ticker_diff"
	SourceExchangeInfo Source = "exchange_info"
	SourceSymbolsV2    Source = "symbolsv2"
	SourceWebSocket    Source = "websocket"
)

// authorityRank implements spec §4.5's merge preference:
// calendar > symbolsv2 > exchange_info > ticker_diff.
var authorityRank = map[Source]int{
	SourceCalendar:     4,
	SourceSymbolsV2:    3,
	SourceExchangeInfo: 2,
	SourceTickerDiff:   1,
	SourceWebSocket:    0,
}

// Authority returns s's merge-priority rank; higher wins.
func Authority(s Source) int { return authorityRank[s] }

// Confidence mirrors spec §3's confidence grading.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// State is the ListingSignal lifecycle from spec §4.5.
type State string

const (
	StateProposed   State = "PROPOSED"
	StateDeduped    State = "DEDUPED"
	StatePersisted  State = "PERSISTED"
	StateDispatched State = "DISPATCHED"
	StateExecuted   State = "EXECUTED"
	StateRejected   State = "REJECTED"
	StateExpired    State = "EXPIRED"
)

// ListingSignal is spec §3's entity.
type ListingSignal struct {
	ID                string
	Symbol            string
	Source            Source
	ListingTime       *time.Time
	Confidence        Confidence
	DetectedAt        time.Time
	FreshnessDeadline time.Time
	State             State
}

// DedupWindow is spec §4.5's default window (1 minute).
const DedupWindow = 60 * time.Second

// FreshnessWindow is spec §4.5's default freshness window (60s).
const FreshnessWindow = 60 * time.Second

// NewSignal builds a PROPOSED ListingSignal with its freshness deadline
// set per spec §4.5.
func NewSignal(id, symbol string, source Source, listingTime *time.Time, confidence Confidence, detectedAt time.Time) ListingSignal {
	return ListingSignal{
		ID:                id,
		Symbol:            symbol,
		Source:            source,
		ListingTime:       listingTime,
		Confidence:        confidence,
		DetectedAt:        detectedAt,
		FreshnessDeadline: detectedAt.Add(FreshnessWindow),
		State:             StateProposed,
	}
}

// IsFresh reports whether now is at or before the signal's deadline.
func (s ListingSignal) IsFresh(now time.Time) bool {
	return !now.After(s.FreshnessDeadline)
}

// NormalizeSymbol uppercases sym and appends USDT unless it already ends
// in a known quote asset, per spec §4.5.
func NormalizeSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(sym, quote) {
			return sym
		}
	}
	return sym + "USDT"
}

// Store is the persistence seam the Deduplicator and executor use; spec §9
// names it as one of the constructor-injected collaborator interfaces.
type Store interface {
	// FindWithin reports whether a signal for (symbol, source) was
	// recorded within window of now.
	FindWithin(ctx context.Context, symbol string, source Source, now time.Time, window time.Duration) (bool, error)
	// Save persists sig for audit and future dedup checks.
	Save(ctx context.Context, sig ListingSignal) error
}

// Candidate is a pre-dedup proposal a detector emits, before it has an ID
// or a finalized state.
type Candidate struct {
	Symbol      string
	Source      Source
	ListingTime *time.Time
	Confidence  Confidence
	DetectedAt  time.Time
}

// MergeByAuthority implements spec §4.5's merge rule: when multiple
// sources propose the same symbol in the same tick, retain the
// highest-authority entry.
func MergeByAuthority(candidates []Candidate) []Candidate {
	best := map[string]Candidate{}
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		existing, ok := best[c.Symbol]
		if !ok {
			best[c.Symbol] = c
			order = append(order, c.Symbol)
			continue
		}
		if Authority(c.Source) > Authority(existing.Source) {
			best[c.Symbol] = c
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, sym := range order {
		out = append(out, best[sym])
	}
	return out
}
