// Package sellengine implements the Sell-Strategy Engine from spec §4.10:
// a periodic monitor that evaluates per-position exit rules in a fixed
// order, firing the first match, grounded on spec §9's note that
// validators become explicit result objects rather than exceptions.
package sellengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mexcsniper/clock"
	"mexcsniper/position"
	"mexcsniper/tradeconfig"
)

// SellReason mirrors spec §4.10's sellReason values.
type SellReason string

const (
	ReasonStopLoss     SellReason = "STOP_LOSS"
	ReasonTrailingStop SellReason = "TRAILING_STOP"
	ReasonProfitTarget SellReason = "PROFIT_TARGET"
	ReasonTimeBased    SellReason = "TIME_BASED"
)

// DefaultTick is spec §4.10's default monitor period.
const DefaultTick = 1 * time.Second

// PriceStaleness is spec §4.10's freshness bound for mark-to-market data.
const PriceStaleness = 5 * time.Second

// Seller executes the SELL path when a rule fires.
type Seller interface {
	ExecuteSellTrade(ctx context.Context, symbol string, qty *float64, sellReason string) error
}

// SellerFunc adapts a plain function to Seller, letting the composition
// root wrap *executor.Executor.ExecuteSellTrade (which also returns a
// TradeAttempt) without sellengine importing executor and creating an
// import cycle.
type SellerFunc func(ctx context.Context, symbol string, qty *float64, sellReason string) error

func (f SellerFunc) ExecuteSellTrade(ctx context.Context, symbol string, qty *float64, sellReason string) error {
	return f(ctx, symbol, qty, sellReason)
}

// rule is one ordered exit check; spec §4.10 fixes this exact order.
type rule struct {
	reason SellReason
	fires  func(p position.Position, cfg tradeconfig.Configuration) bool
}

var rules = []rule{
	{
		reason: ReasonStopLoss,
		fires: func(p position.Position, cfg tradeconfig.Configuration) bool {
			if cfg.StopLossBps <= 0 {
				return false
			}
			return p.CurrentPrice <= p.EntryPrice*(1-cfg.StopLossBps/10000)
		},
	},
	{
		reason: ReasonTrailingStop,
		fires: func(p position.Position, cfg tradeconfig.Configuration) bool {
			if cfg.TrailingStopBps <= 0 {
				return false
			}
			return p.HighWaterMark > p.EntryPrice && p.CurrentPrice <= p.HighWaterMark*(1-cfg.TrailingStopBps/10000)
		},
	},
	{
		reason: ReasonProfitTarget,
		fires: func(p position.Position, cfg tradeconfig.Configuration) bool {
			if cfg.ProfitTargetBps <= 0 {
				return false
			}
			return p.CurrentPrice >= p.EntryPrice*(1+cfg.ProfitTargetBps/10000)
		},
	},
}

// timeBasedFires is evaluated with `now` rather than CurrentPrice, kept
// separate from the price-based rules table above.
func timeBasedFires(p position.Position, cfg tradeconfig.Configuration, now time.Time) bool {
	if cfg.TimeBasedExitMinutes <= 0 {
		return false
	}
	return now.Sub(p.EntryTime) >= time.Duration(cfg.TimeBasedExitMinutes)*time.Minute
}

// Evaluate checks p against cfg's active rules in spec §4.10's fixed
// order and returns the first reason that fires, if any.
func Evaluate(p position.Position, cfg tradeconfig.Configuration, now time.Time) (SellReason, bool) {
	active := activeRules(cfg)
	for _, r := range rules {
		if !active[r.reason] {
			continue
		}
		if r.fires(p, cfg) {
			return r.reason, true
		}
	}
	if active[ReasonTimeBased] && timeBasedFires(p, cfg, now) {
		return ReasonTimeBased, true
	}
	return "", false
}

// activeRules implements spec §4.10's strategy selection: a single
// strategy enables only its own rule; COMBINED enables all four.
func activeRules(cfg tradeconfig.Configuration) map[SellReason]bool {
	switch cfg.SellStrategy {
	case tradeconfig.StrategyStopLoss:
		return map[SellReason]bool{ReasonStopLoss: true}
	case tradeconfig.StrategyTrailingStop:
		return map[SellReason]bool{ReasonTrailingStop: true}
	case tradeconfig.StrategyProfitTarget:
		return map[SellReason]bool{ReasonProfitTarget: true}
	case tradeconfig.StrategyTimeBased:
		return map[SellReason]bool{ReasonTimeBased: true}
	case tradeconfig.StrategyCombined:
		return map[SellReason]bool{ReasonStopLoss: true, ReasonTrailingStop: true, ReasonProfitTarget: true, ReasonTimeBased: true}
	default:
		return nil
	}
}

// Engine periodically evaluates every open position's exit rules.
type Engine struct {
	positions *position.Tracker
	configFor func(symbol string) (tradeconfig.Configuration, bool)
	seller    Seller
	clock     clock.Clock
	log       zerolog.Logger
	tick      time.Duration
}

// New builds an Engine. configFor resolves the active configuration that
// governs a given symbol's position.
func New(positions *position.Tracker, configFor func(symbol string) (tradeconfig.Configuration, bool), seller Seller, clk clock.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		positions: positions,
		configFor: configFor,
		seller:    seller,
		clock:     clk,
		log:       log.With().Str("component", "sell_engine").Logger(),
		tick:      DefaultTick,
	}
}

// Run blocks, evaluating every open position every e.tick until ctx is
// canceled. The monitor cancels its tick if the supervisor signals
// STOPPING, per spec §5, by ctx cancellation.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.runTick(ctx)
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	now := e.clock.Now()
	for _, p := range e.positions.List() {
		if now.Sub(p.PriceUpdatedAt) > PriceStaleness {
			// Price freshness violated per spec §4.10: skip this tick
			// for the position, let the next mark-to-market refresh it.
			continue
		}
		cfg, ok := e.configFor(p.Symbol)
		if !ok {
			continue
		}
		reason, fired := Evaluate(p, cfg, now)
		if !fired {
			continue
		}
		if err := e.seller.ExecuteSellTrade(ctx, p.Symbol, nil, string(reason)); err != nil {
			e.log.Error().Err(err).Str("symbol", p.Symbol).Str("reason", string(reason)).Msg("sell execution failed")
		}
	}
}
