// Package executor implements the Trade Executor from spec §4.8: the BUY
// pipeline from the safety checks onward (the caller supplies the active
// configuration) and the SELL variant, grounded on the RyanLisse
// sniper_service.go reference's ExecuteSnipeWithConfig
// validate-price-size-submit-persist shape.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mexcsniper/attemptstore"
	"mexcsniper/clock"
	"mexcsniper/errkind"
	"mexcsniper/eventbus"
	"mexcsniper/exchange"
	"mexcsniper/metrics"
	"mexcsniper/position"
	"mexcsniper/risk"
	"mexcsniper/rules"
	"mexcsniper/signal"
	"mexcsniper/tradeconfig"
	"mexcsniper/validator"
)

// ConfigProvider supplies the active TradingConfiguration for a user.
// Executor does not hold one: ExecuteTrade receives the configuration
// from its caller and does not load it itself.
type ConfigProvider interface {
	GetActive(ctx context.Context, userID string) (*tradeconfig.Configuration, error)
}

// Executor wires every collaborator the pipeline needs, constructor
// injected per spec §9.
type Executor struct {
	exchange  exchange.Client
	rules     *rules.Cache
	positions *position.Tracker
	attempts  *attemptstore.Store
	ledger    *risk.Ledger
	bus       *eventbus.Bus
	clock     clock.Clock
	log       zerolog.Logger
	userID    string
}

// New builds an Executor.
func New(client exchange.Client, rulesCache *rules.Cache, positions *position.Tracker, attempts *attemptstore.Store, ledger *risk.Ledger, bus *eventbus.Bus, clk clock.Clock, log zerolog.Logger, userID string) *Executor {
	return &Executor{
		exchange:  client,
		rules:     rulesCache,
		positions: positions,
		attempts:  attempts,
		ledger:    ledger,
		bus:       bus,
		clock:     clk,
		log:       log.With().Str("component", "executor").Logger(),
		userID:    userID,
	}
}

// SafetyCounters is the subset of attemptstore queries step 2 needs,
// narrowed to an interface so tests can fake it without a real database.
type SafetyCounters interface {
	SpentToday(ctx context.Context, configurationID string, now time.Time) (float64, error)
	TradesThisHour(ctx context.Context, configurationID string, now time.Time) (int, error)
}

// ExecuteTrade implements spec §4.8's BUY pipeline for sig against cfg,
// using currentPrice as the MARKET reference price.
func (e *Executor) ExecuteTrade(ctx context.Context, cfg *tradeconfig.Configuration, sig signal.ListingSignal, currentPrice float64, counters SafetyCounters) (*attemptstore.TradeAttempt, error) {
	now := e.clock.Now()

	// Step 2: safety constraints.
	if !sig.IsFresh(now) {
		e.log.Debug().Str("symbol", sig.Symbol).Str("code", errkind.CodeSignalStale).Msg("SIGNAL_STALE")
		metrics.RecordSignal(string(sig.Source), "stale")
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: errkind.CodeSignalStale, Message: "signal past freshness deadline", Timestamp: now}
	}

	tradesThisHour, err := counters.TradesThisHour(ctx, cfg.ID, now)
	if err != nil {
		return nil, errkind.Database(now, "DB_ERROR", "failed to count trades this hour", "", err)
	}
	if tradesThisHour >= cfg.MaxTradesPerHour {
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: "HOURLY_LIMIT_EXCEEDED", Message: "max trades per hour reached", Timestamp: now}
	}

	spentToday, err := counters.SpentToday(ctx, cfg.ID, now)
	if err != nil {
		return nil, errkind.Database(now, "DB_ERROR", "failed to sum spent today", "", err)
	}
	dailySpendRemaining := cfg.DailySpendLimit - spentToday

	// Step 3: candidate quantity.
	if currentPrice <= 0 {
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: "INVALID_PRICE", Message: "non-positive reference price", Timestamp: now}
	}
	qty := cfg.PerTradeQuote / currentPrice
	price := currentPrice

	// Step 4: validator + auto-adjustment.
	ruleSet, haveRules := e.rules.GetRules(sig.Symbol)
	if haveRules {
		qty = rules.AdjustQuantity(qty, ruleSet.StepSize)
		price = rules.AdjustPrice(price, ruleSet.TickSize)
	}
	result := validator.Validate(ruleSet, haveRules, price, qty)
	if !result.Valid {
		e.emitAlert(now, "high", "order_validator", "order failed validation")
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: errkind.CodeValidationFailed, Message: joinErrors(result.Errors), Timestamp: now}
	}

	// Step 5: risk manager.
	decision := risk.ValidateOrder(risk.OrderCheck{
		Symbol:              sig.Symbol,
		Side:                "BUY",
		Qty:                 qty,
		Price:               price,
		PortfolioValue:      0,
		DailyPnL:            e.ledger.DailyPnL(now),
		DailySpendRemaining: dailySpendRemaining,
		// TradingConfiguration carries no separate daily-loss-limit
		// field (spec §3); dailySpendLimit doubles as the loss-halt
		// ceiling, matching the teacher's single daily-cap config shape.
		DailyLossLimit: cfg.DailySpendLimit,
		OpenPositionCount:   len(e.positions.List()),
		MaxOpenPositions:    0,
	})
	if !decision.Approved {
		e.emitAlert(now, "high", "risk_manager", decision.Reason)
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: errkind.CodeRiskRejected, Message: decision.Reason, Timestamp: now}
	}

	// Step 6: PENDING TradeAttempt.
	attempt := attemptstore.TradeAttempt{
		ID:              uuid.NewString(),
		Symbol:          sig.Symbol,
		Side:            attemptstore.SideBuy,
		Type:            attemptstore.TypeMarket,
		Status:          attemptstore.StatusPending,
		RequestedQty:    qty,
		CreatedAt:       now,
		ConfigurationID: cfg.ID,
	}
	if err := e.attempts.Insert(ctx, attempt); err != nil {
		return nil, err
	}
	e.emitTradeUpdate(now, attempt, 0)

	// Step 7: submit.
	start := e.clock.Now()
	resp, err := e.exchange.PlaceOrder(ctx, sig.Symbol, exchange.SideBuy, exchange.TypeMarket, qty, 0)
	executionMs := e.clock.Now().Sub(start).Milliseconds()

	if err != nil {
		e.failAttempt(ctx, &attempt, err, executionMs, now)
		return &attempt, err
	}

	// Step 8: success.
	executedQty := parseFloatOrZero(resp.ExecutedQty)
	executedPrice := fillPrice(resp)
	attempt.Status = attemptstore.StatusSuccess
	attempt.ExecutedQty = &executedQty
	attempt.ExecutedPrice = &executedPrice
	attempt.ExecutionMs = executionMs
	completed := e.clock.Now()
	attempt.CompletedAt = &completed

	if err := e.attempts.UpdateStatus(ctx, attempt.ID, attemptstore.StatusSuccess, &executedQty, &executedPrice, executionMs, "", completed); err != nil {
		return &attempt, errkind.Database(now, "DB_ERROR", "failed to persist SUCCESS attempt", "", err)
	}

	if err := e.positions.Open(position.Position{
		Symbol:         sig.Symbol,
		Quantity:       executedQty,
		EntryPrice:     executedPrice,
		EntryTime:      completed,
		BuyOrderID:     resp.OrderID,
		TradeAttemptID: attempt.ID,
		CurrentPrice:   executedPrice,
	}, completed); err != nil {
		return &attempt, err
	}

	metrics.RecordTrade("SUCCESS", "BUY", float64(executionMs))
	e.emitTradeUpdate(completed, attempt, executedPrice*executedQty)
	e.bus.PublishListingDetected(completed, eventbus.ListingDetected{
		ID:         attempt.ID,
		Symbol:     sig.Symbol,
		Price:      executedPrice,
		DetectedAt: sig.DetectedAt.UnixMilli(),
		Metadata:   eventbus.ListingDetectedMetadata{DetectionMethod: string(sig.Source)},
	})

	return &attempt, nil
}

func (e *Executor) failAttempt(ctx context.Context, attempt *attemptstore.TradeAttempt, cause error, executionMs int64, now time.Time) {
	attempt.Status = attemptstore.StatusFailed
	attempt.ErrorMessage = cause.Error()
	attempt.ExecutionMs = executionMs
	completed := e.clock.Now()
	attempt.CompletedAt = &completed

	_ = e.attempts.UpdateStatus(ctx, attempt.ID, attemptstore.StatusFailed, nil, nil, executionMs, cause.Error(), completed)
	metrics.RecordTrade("FAILED", "BUY", float64(executionMs))
	e.emitTradeUpdate(now, *attempt, 0)

	severity := "medium"
	if ke, ok := cause.(*errkind.Error); ok && (ke.Code == errkind.CodeCircuitOpen || ke.Code == errkind.CodeRiskRejected || ke.Code == errkind.CodeValidationFailed) {
		severity = "high"
	}
	e.emitAlert(now, severity, "exchange_api", cause.Error())
}

// ExecuteSellTrade implements spec §4.8's SELL variant.
func (e *Executor) ExecuteSellTrade(ctx context.Context, symbol string, qty *float64, sellReason string) (*attemptstore.TradeAttempt, error) {
	now := e.clock.Now()
	pos, ok := e.positions.Get(symbol)
	if !ok {
		return nil, &errkind.Error{Kind: errkind.KindTrading, Code: errkind.CodeNoOpenPosition, Message: "no open position for " + symbol, Timestamp: now}
	}

	sellQty := pos.Quantity
	if qty != nil {
		sellQty = *qty
	}

	attempt := attemptstore.TradeAttempt{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            attemptstore.SideSell,
		Type:            attemptstore.TypeMarket,
		Status:          attemptstore.StatusPending,
		RequestedQty:    sellQty,
		CreatedAt:       now,
		ParentTradeID:   pos.TradeAttemptID,
		PositionID:      pos.TradeAttemptID,
		SellReason:      sellReason,
	}
	if err := e.attempts.Insert(ctx, attempt); err != nil {
		return nil, err
	}

	start := e.clock.Now()
	resp, err := e.exchange.PlaceOrder(ctx, symbol, exchange.SideSell, exchange.TypeMarket, sellQty, 0)
	executionMs := e.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		e.failAttempt(ctx, &attempt, err, executionMs, now)
		return &attempt, err
	}

	executedQty := parseFloatOrZero(resp.ExecutedQty)
	executedPrice := fillPrice(resp)
	completed := e.clock.Now()
	attempt.Status = attemptstore.StatusSuccess
	attempt.ExecutedQty = &executedQty
	attempt.ExecutedPrice = &executedPrice
	attempt.ExecutionMs = executionMs
	attempt.CompletedAt = &completed
	if err := e.attempts.UpdateStatus(ctx, attempt.ID, attemptstore.StatusSuccess, &executedQty, &executedPrice, executionMs, "", completed); err != nil {
		return &attempt, errkind.Database(now, "DB_ERROR", "failed to persist SUCCESS sell attempt", "", err)
	}

	realizedPnL := (executedPrice - pos.EntryPrice) * executedQty
	e.ledger.RecordRealizedPnL(completed, realizedPnL)

	_, _, _ = e.positions.ReduceOrClose(symbol, executedQty)

	metrics.RecordTrade("SUCCESS", "SELL", float64(executionMs))
	e.emitTradeUpdate(completed, attempt, executedPrice*executedQty)
	return &attempt, nil
}

func (e *Executor) emitTradeUpdate(now time.Time, a attemptstore.TradeAttempt, value float64) {
	e.bus.PublishTradeUpdate(now, eventbus.TradeUpdate{
		ID:               a.ID,
		Symbol:           a.Symbol,
		Status:           string(a.Status),
		Strategy:         string(a.Type),
		ExecutedPrice:    a.ExecutedPrice,
		ExecutedQuantity: a.ExecutedQty,
		ExecutionTime:    a.ExecutionMs,
		Value:            value,
	})
}

func (e *Executor) emitAlert(now time.Time, severity, component, message string) {
	e.bus.PublishSystemAlert(now, eventbus.SystemAlert{Severity: severity, Component: component, Message: message})
}

func joinErrors(errs []string) string {
	out := ""
	for i, s := range errs {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func parseFloatOrZero(s string) float64 {
	v, err := parseFloat(s)
	if err != nil {
		return 0
	}
	return v
}

func fillPrice(resp *exchange.OrderResponse) float64 {
	if resp.Price != "" && resp.Price != "0" {
		if v, err := parseFloat(resp.Price); err == nil && v > 0 {
			return v
		}
	}
	qty := parseFloatOrZero(resp.ExecutedQty)
	if qty == 0 {
		return 0
	}
	quote, err := parseFloat(resp.CummulativeQuote)
	if err != nil || quote == 0 {
		return 0
	}
	return quote / qty
}
