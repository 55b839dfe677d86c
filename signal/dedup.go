package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Deduplicator checks candidates against Store within DedupWindow, failing
// open on store errors per spec §4.5/§7: a database error during dedup
// allows the signal through rather than blocking it.
type Deduplicator struct {
	store  Store
	window time.Duration
	log    zerolog.Logger
}

// NewDeduplicator builds a Deduplicator with spec §4.5's default window.
func NewDeduplicator(store Store, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{store: store, window: DedupWindow, log: log.With().Str("component", "deduplicator").Logger()}
}

// Admit reports whether c should proceed (true) or be dropped as a
// duplicate (false).
func (d *Deduplicator) Admit(ctx context.Context, c Candidate, now time.Time) bool {
	dup, err := d.store.FindWithin(ctx, c.Symbol, c.Source, now, d.window)
	if err != nil {
		d.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("dedup store error, failing open")
		return true
	}
	return !dup
}

// AdmitAll returns a new slice of the candidates Admit lets through,
// preserving order. It never adds candidates, so |emitted| <= |candidates|;
// repeats of one symbol inside the same call are not collapsed here
// (MergeByAuthority does that before dedup in the orchestrator).
func (d *Deduplicator) AdmitAll(ctx context.Context, candidates []Candidate, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if d.Admit(ctx, c, now) {
			out = append(out, c)
		}
	}
	return out
}
