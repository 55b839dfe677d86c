package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexcsniper/clock"
	"mexcsniper/exchange"
)

// fakeClient implements exchange.Client, returning a fixed exchangeInfo
// payload and counting GetExchangeInfo calls so LoadRules' TTL gating can
// be exercised without a live exchange.
type fakeClient struct {
	exchange.Client
	info      *exchange.ExchangeInfo
	loadCalls int
}

func (f *fakeClient) GetExchangeInfo(ctx context.Context) (*exchange.ExchangeInfo, error) {
	f.loadCalls++
	return f.info, nil
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		info: &exchange.ExchangeInfo{
			Symbols: []exchange.SymbolInfo{
				{
					Symbol:     "FOOUSDT",
					Status:     "ENABLED",
					BaseAsset:  "FOO",
					QuoteAsset: "USDT",
					Filters: []exchange.SymbolFilter{
						{FilterType: "LOT_SIZE", MinQty: "1", MaxQty: "1000000", StepSize: "0.01"},
						{FilterType: "MIN_NOTIONAL", MinNotional: "5"},
						{FilterType: "PRICE_FILTER", TickSize: "0.0001"},
					},
				},
			},
		},
	}
}

func TestCache_LoadRulesPopulatesSymbol(t *testing.T) {
	fc := newFakeClient()
	clk := clock.NewFixed(time.Now())
	c := New(fc, clk)

	require.NoError(t, c.LoadRules(context.Background()))

	r, ok := c.GetRules("FOOUSDT")
	require.True(t, ok)
	assert.True(t, r.Enabled())
	assert.Equal(t, 1.0, r.MinQty)
	assert.Equal(t, 0.01, r.StepSize)
	assert.Equal(t, 5.0, r.MinNotional)
	assert.Equal(t, 0.0001, r.TickSize)
}

func TestCache_LoadRulesSkipsRefreshWithinTTL(t *testing.T) {
	fc := newFakeClient()
	clk := clock.NewFixed(time.Now())
	c := New(fc, clk)

	require.NoError(t, c.LoadRules(context.Background()))
	require.Equal(t, 1, fc.loadCalls)

	clk.Advance(time.Hour - time.Second)
	require.NoError(t, c.LoadRules(context.Background()))
	assert.Equal(t, 1, fc.loadCalls, "a refresh within the TTL must not hit the exchange again")
}

func TestCache_LoadRulesRefreshesAfterTTL(t *testing.T) {
	fc := newFakeClient()
	clk := clock.NewFixed(time.Now())
	c := New(fc, clk)

	require.NoError(t, c.LoadRules(context.Background()))
	clk.Advance(time.Hour + time.Second)
	require.NoError(t, c.LoadRules(context.Background()))

	assert.Equal(t, 2, fc.loadCalls)
}

func TestCache_GetRulesUnknownSymbol(t *testing.T) {
	c := New(newFakeClient(), clock.NewFixed(time.Now()))
	_, ok := c.GetRules("NOPE")
	assert.False(t, ok)
}

func TestAdjustQuantity_RoundsDownToStepSize(t *testing.T) {
	assert.Equal(t, 1.23, AdjustQuantity(1.239, 0.01))
	assert.Equal(t, 1.2, AdjustQuantity(1.2, 0.01))
	assert.Equal(t, 5.0, AdjustQuantity(5.004, 1))
}

func TestAdjustQuantity_ZeroStepSizeIsNoop(t *testing.T) {
	assert.Equal(t, 1.23456, AdjustQuantity(1.23456, 0))
}

func TestAdjustQuantity_Idempotent(t *testing.T) {
	for _, step := range []float64{0.01, 0.001, 1, 0.1} {
		for _, qty := range []float64{1.2399, 100.005, 0.0001, 999.9999} {
			once := AdjustQuantity(qty, step)
			twice := AdjustQuantity(once, step)
			assert.Equal(t, once, twice, "AdjustQuantity must be idempotent for qty=%v step=%v", qty, step)
		}
	}
}

func TestAdjustPrice_RoundsDownToTickSize(t *testing.T) {
	assert.Equal(t, 0.0012, AdjustPrice(0.001299, 0.0001))
}

func TestAdjustPrice_Idempotent(t *testing.T) {
	for _, tick := range []float64{0.0001, 0.01, 1} {
		for _, price := range []float64{12.3456, 0.00019, 1000.5} {
			once := AdjustPrice(price, tick)
			twice := AdjustPrice(once, tick)
			assert.Equal(t, once, twice, "AdjustPrice must be idempotent for price=%v tick=%v", price, tick)
		}
	}
}
