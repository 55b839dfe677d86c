// Package creds implements the Credential Validator from spec §4
// component 6: a periodic background probe of API credentials that
// demotes BotStatus.exchangeApiStatus on repeated failure, grounded on the
// teacher's heartbeat-and-degrade idiom in auto_trader.go.
package creds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexcsniper/clock"
	"mexcsniper/exchange"
)

// Status mirrors spec §3 BotStatus.exchangeApiStatus.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

// Validator probes the exchange account endpoint on an interval and
// exposes the rolling API status plus an EWMA of response time.
type Validator struct {
	client exchange.Client
	clock  clock.Clock
	log    zerolog.Logger
	period time.Duration

	mu               sync.RWMutex
	status           Status
	consecutiveFails int
	ewmaMs           float64
}

// New builds a Validator. period is the probe interval.
func New(client exchange.Client, clk clock.Clock, log zerolog.Logger, period time.Duration) *Validator {
	return &Validator{
		client: client,
		clock:  clk,
		log:    log.With().Str("component", "creds_validator").Logger(),
		period: period,
		status: StatusOK,
	}
}

// Run blocks probing until ctx is canceled.
func (v *Validator) Run(ctx context.Context) {
	t := time.NewTicker(v.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.probe(ctx)
		}
	}
}

func (v *Validator) probe(ctx context.Context) {
	start := v.clock.Now()
	_, err := v.client.GetAccountInfo(ctx)
	elapsed := v.clock.Now().Sub(start).Milliseconds()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ewmaMs == 0 {
		v.ewmaMs = float64(elapsed)
	} else {
		const alpha = 0.2
		v.ewmaMs = alpha*float64(elapsed) + (1-alpha)*v.ewmaMs
	}

	if err != nil {
		v.consecutiveFails++
		v.log.Warn().Err(err).Int("consecutive_fails", v.consecutiveFails).Msg("credential probe failed")
		switch {
		case v.consecutiveFails >= 6:
			v.status = StatusDown
		case v.consecutiveFails >= 3:
			v.status = StatusDegraded
		}
		return
	}

	v.consecutiveFails = 0
	v.status = StatusOK
}

// Status returns the current exchange API status and response-time EWMA.
func (v *Validator) Status() (Status, float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status, v.ewmaMs
}
