// Package orchestrator implements the Detection Orchestrator from spec
// §4.5/§4.9: a periodic tick that fans scanners out in parallel, merges by
// authority, dedups, and dispatches fresh signals downstream. Parallel
// fan-out uses golang.org/x/sync/errgroup, the same library the teacher
// and three other pack repos use for concurrent scanner-style work.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"

	"mexcsniper/clock"
	"mexcsniper/detector"
	"mexcsniper/signal"
)

// DefaultTick is spec §4.5's default orchestrator period.
const DefaultTick = 5 * time.Second

// Dispatcher receives dispatch-ready signals, handed off to the executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig signal.ListingSignal)
}

// IDGen mints ListingSignal ids.
type IDGen func() string

// Orchestrator runs the periodic scan-merge-dedup-dispatch cycle.
type Orchestrator struct {
	scanners []detector.Scanner
	dedup    *signal.Deduplicator
	store    signal.Store
	dispatch Dispatcher
	clock    clock.Clock
	newID    IDGen
	log      zerolog.Logger
	tick     time.Duration

	mu      sync.Mutex
	running bool
	lastRun map[signal.Source]time.Time
}

// New builds an Orchestrator.
func New(scanners []detector.Scanner, dedup *signal.Deduplicator, store signal.Store, dispatch Dispatcher, clk clock.Clock, newID IDGen, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		scanners: scanners,
		dedup:    dedup,
		store:    store,
		dispatch: dispatch,
		clock:    clk,
		newID:    newID,
		log:      log.With().Str("component", "orchestrator").Logger(),
		tick:     DefaultTick,
		lastRun:  map[signal.Source]time.Time{},
	}
}

// Run blocks, ticking every o.tick until ctx is canceled. A late tick is
// skipped, not queued, if the previous tick is still in flight, per
// spec §5.
func (o *Orchestrator) Run(ctx context.Context) {
	t := time.NewTicker(o.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.runTick(ctx)
		}
	}
}

// dueScanners filters o.scanners down to the sources whose MinInterval
// has elapsed since their last run, recording now against each as due,
// so a source is never dispatched to more often than spec §4.5 allows
// regardless of how frequently the tick itself fires.
func (o *Orchestrator) dueScanners(now time.Time) []detector.Scanner {
	due := make([]detector.Scanner, 0, len(o.scanners))
	for _, s := range o.scanners {
		last, seen := o.lastRun[s.Source()]
		if seen && now.Sub(last) < s.MinInterval() {
			o.log.Debug().Str("source", string(s.Source())).Msg("skipping tick: inside source's minimum interval")
			continue
		}
		o.lastRun[s.Source()] = now
		due = append(due, s)
	}
	return due
}

func (o *Orchestrator) runTick(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.log.Debug().Msg("skipping tick: previous tick still in flight")
		return
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	start := o.clock.Now()
	budget := time.Duration(float64(o.tick) * 0.8)
	tickCtx, cancel := context.WithTimeout(ctx, o.tick)
	defer cancel()

	due := o.dueScanners(start)

	results := make([][]signal.Candidate, len(due))
	g, gctx := errgroup.WithContext(tickCtx)
	for i, s := range due {
		i, s := i, s
		g.Go(func() error {
			cands, err := s.Scan(gctx)
			if err != nil {
				// Scanner errors degrade gracefully per spec §7: this
				// source contributes nothing, others still proceed.
				o.log.Warn().Err(err).Str("source", string(s.Source())).Msg("scanner failed")
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	var all []signal.Candidate
	for _, r := range results {
		all = append(all, r...)
	}

	merged := signal.MergeByAuthority(all)
	now := o.clock.Now()
	admitted := o.dedup.AdmitAll(ctx, merged, now)

	for _, c := range admitted {
		sig := signal.NewSignal(o.newID(), c.Symbol, c.Source, c.ListingTime, c.Confidence, c.DetectedAt)
		sig.State = signal.StatePersisted
		if err := o.store.Save(ctx, sig); err != nil {
			o.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to persist listing signal")
			continue
		}
		sig.State = signal.StateDispatched
		o.dispatch.Dispatch(ctx, sig)
	}

	if elapsed := o.clock.Now().Sub(start); elapsed > budget {
		o.log.Warn().Dur("elapsed", elapsed).Dur("budget", budget).Msg("detection cycle overran soft budget")
	}
}
