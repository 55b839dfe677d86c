// Package ratelimit implements the token-bucket limiter from spec §4.6:
// reservoir 20, refill 20/s, a maxConcurrent semaphore, and a minSpacing
// gate, layered the way the RyanLisse sniper_service.go reference combines
// golang.org/x/time/rate with a buffered-channel semaphore.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mexcsniper/errkind"
)

// Config carries the tunables named in spec §4.6 and §3 (RateLimiterState).
type Config struct {
	Reservoir      int
	RefillPerSec   float64
	MaxConcurrent  int
	MinSpacing     time.Duration
	MaxQueueDepth  int
}

// DefaultConfig matches the RateLimiterState defaults from spec §3/§4.6.
func DefaultConfig() Config {
	return Config{
		Reservoir:     20,
		RefillPerSec:  20,
		MaxConcurrent: 10,
		MinSpacing:    50 * time.Millisecond,
		MaxQueueDepth: 100,
	}
}

// Limiter gates outbound calls to one logical endpoint group.
type Limiter struct {
	cfg     Config
	bucket  *rate.Limiter
	sem     chan struct{}
	mu      sync.Mutex
	lastRun time.Time
	queued  int
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		bucket: rate.NewLimiter(rate.Limit(cfg.RefillPerSec), cfg.Reservoir),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// QueueDepth reports the current number of callers waiting in Acquire, for
// the queue-depth metric spec §4.6 requires.
func (l *Limiter) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queued
}

// Acquire blocks (FIFO via the underlying token bucket and semaphore)
// until a slot is available, honoring minSpacing, or returns
// RATE_LIMIT_ERROR if the queue is already at MaxQueueDepth. The returned
// release func must be called exactly once when the caller is done.
func (l *Limiter) Acquire(ctx context.Context, now time.Time) (release func(), err error) {
	l.mu.Lock()
	if l.queued >= l.cfg.MaxQueueDepth {
		l.mu.Unlock()
		return nil, &errkind.Error{
			Kind:       errkind.KindExchangeAPI,
			Code:       errkind.CodeRateLimitError,
			Message:    "rate limiter queue full",
			Timestamp:  now,
			StatusCode: 429,
		}
	}
	l.queued++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.queued--
		l.mu.Unlock()
	}()

	if err := l.bucket.Wait(ctx); err != nil {
		return nil, err
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	if wait := l.cfg.MinSpacing - time.Since(l.lastRun); wait > 0 && !l.lastRun.IsZero() {
		l.mu.Unlock()
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			<-l.sem
			return nil, ctx.Err()
		}
		l.mu.Lock()
	}
	l.lastRun = time.Now()
	l.mu.Unlock()

	return func() { <-l.sem }, nil
}
