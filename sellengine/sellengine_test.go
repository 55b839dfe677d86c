package sellengine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexcsniper/clock"
	"mexcsniper/position"
	"mexcsniper/tradeconfig"
)

func combinedConfig() tradeconfig.Configuration {
	return tradeconfig.Configuration{
		SellStrategy:         tradeconfig.StrategyCombined,
		StopLossBps:          1000,
		TrailingStopBps:      500,
		ProfitTargetBps:      2000,
		TimeBasedExitMinutes: 60,
	}
}

func TestEvaluate_StopLossFiresFirstWhenMultipleConditionsMatch(t *testing.T) {
	now := time.Now()
	p := position.Position{
		Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 8, HighWaterMark: 10, EntryTime: now.Add(-2 * time.Hour),
	}

	reason, fired := Evaluate(p, combinedConfig(), now)
	require.True(t, fired)
	assert.Equal(t, ReasonStopLoss, reason, "stop loss must take priority over the time-based exit in the fixed evaluation order")
}

func TestEvaluate_ProfitTargetFires(t *testing.T) {
	now := time.Now()
	p := position.Position{Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 12.5, HighWaterMark: 12.5, EntryTime: now}

	reason, fired := Evaluate(p, combinedConfig(), now)
	require.True(t, fired)
	assert.Equal(t, ReasonProfitTarget, reason)
}

func TestEvaluate_TrailingStopRequiresPriorHighWaterMarkAboveEntry(t *testing.T) {
	now := time.Now()
	cfg := tradeconfig.Configuration{SellStrategy: tradeconfig.StrategyTrailingStop, TrailingStopBps: 500}

	p := position.Position{Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 9.8, HighWaterMark: 10, EntryTime: now}
	_, fired := Evaluate(p, cfg, now)
	assert.False(t, fired, "trailing stop must not fire before the price has ever exceeded entry")

	p.HighWaterMark = 11
	p.CurrentPrice = 11 * 0.94
	reason, fired := Evaluate(p, cfg, now)
	require.True(t, fired)
	assert.Equal(t, ReasonTrailingStop, reason)
}

func TestEvaluate_TimeBasedExitFires(t *testing.T) {
	cfg := tradeconfig.Configuration{SellStrategy: tradeconfig.StrategyTimeBased, TimeBasedExitMinutes: 30}
	now := time.Now()
	p := position.Position{Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 10, EntryTime: now.Add(-31 * time.Minute)}

	reason, fired := Evaluate(p, cfg, now)
	require.True(t, fired)
	assert.Equal(t, ReasonTimeBased, reason)
}

func TestEvaluate_SingleStrategyOnlyEnablesItsOwnRule(t *testing.T) {
	cfg := tradeconfig.Configuration{SellStrategy: tradeconfig.StrategyProfitTarget, ProfitTargetBps: 100, StopLossBps: 100}
	now := time.Now()
	p := position.Position{Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 8, HighWaterMark: 10, EntryTime: now}

	_, fired := Evaluate(p, cfg, now)
	assert.False(t, fired, "a STOP_LOSS condition must not fire when the active strategy is PROFIT_TARGET only")
}

func TestEvaluate_NoRuleFiresWhenNothingTriggered(t *testing.T) {
	now := time.Now()
	p := position.Position{Symbol: "FOOUSDT", EntryPrice: 10, CurrentPrice: 10, HighWaterMark: 10, EntryTime: now}
	_, fired := Evaluate(p, combinedConfig(), now)
	assert.False(t, fired)
}

type fakeSeller struct {
	calls []string
}

func (f *fakeSeller) ExecuteSellTrade(ctx context.Context, symbol string, qty *float64, sellReason string) error {
	f.calls = append(f.calls, symbol+":"+sellReason)
	return nil
}

func TestEngine_RunTick_SkipsStalePrices(t *testing.T) {
	positions := position.New()
	now := time.Now()
	require.NoError(t, positions.Open(position.Position{Symbol: "FOOUSDT", Quantity: 1, EntryPrice: 10, CurrentPrice: 5, PriceUpdatedAt: now.Add(-time.Hour)}, now))

	cfg := combinedConfig()
	configFor := func(symbol string) (tradeconfig.Configuration, bool) { return cfg, true }
	seller := &fakeSeller{}
	clk := clock.NewFixed(now)
	e := New(positions, configFor, seller, clk, zerolog.Nop())

	e.runTick(context.Background())

	assert.Empty(t, seller.calls, "a stale mark-to-market price must not trigger a sell")
}

func TestEngine_RunTick_FiresSellOnFreshTrigger(t *testing.T) {
	positions := position.New()
	now := time.Now()
	require.NoError(t, positions.Open(position.Position{Symbol: "FOOUSDT", Quantity: 1, EntryPrice: 10, CurrentPrice: 7, PriceUpdatedAt: now}, now))

	cfg := combinedConfig()
	configFor := func(symbol string) (tradeconfig.Configuration, bool) { return cfg, true }
	seller := &fakeSeller{}
	clk := clock.NewFixed(now)
	e := New(positions, configFor, seller, clk, zerolog.Nop())

	e.runTick(context.Background())

	require.Len(t, seller.calls, 1)
	assert.Equal(t, "FOOUSDT:STOP_LOSS", seller.calls[0])
}
