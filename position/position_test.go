package position

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_OpenRejectsDuplicateSymbol(t *testing.T) {
	tr := New()
	now := time.Now()

	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 10, EntryPrice: 1}, now))
	err := tr.Open(Position{Symbol: "FOOUSDT", Quantity: 5, EntryPrice: 2}, now)
	assert.Error(t, err)
}

func TestTracker_OpenSeedsHighWaterMarkFromEntryPrice(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 10, EntryPrice: 1.5}, time.Now()))

	p, ok := tr.Get("FOOUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.5, p.HighWaterMark)
}

func TestTracker_ReduceOrCloseNeverSellsMoreThanHeld(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 10, EntryPrice: 1}, time.Now()))

	remaining, closed, ok := tr.ReduceOrClose("FOOUSDT", 4)
	require.True(t, ok)
	assert.False(t, closed)
	assert.Equal(t, 6.0, remaining)
	assert.GreaterOrEqual(t, remaining, 0.0, "a partial sell must never leave a negative remaining quantity")

	remaining, closed, ok = tr.ReduceOrClose("FOOUSDT", 6)
	require.True(t, ok)
	assert.True(t, closed)
	assert.LessOrEqual(t, remaining, 1e-9)

	_, ok = tr.Get("FOOUSDT")
	assert.False(t, ok, "a fully reduced position must be removed from the tracker")
}

func TestTracker_ReduceOrCloseDustThresholdCloses(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 1, EntryPrice: 1}, time.Now()))

	_, closed, ok := tr.ReduceOrClose("FOOUSDT", 1-1e-10)
	require.True(t, ok)
	assert.True(t, closed, "a remaining quantity below the dust epsilon must close the position")
}

func TestTracker_ReduceOrCloseUnknownSymbol(t *testing.T) {
	tr := New()
	_, _, ok := tr.ReduceOrClose("NOPE", 1)
	assert.False(t, ok)
}

func TestTracker_MarkToMarketUpdatesPnLAndHighWaterMark(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 10, EntryPrice: 2}, time.Now()))

	now := time.Now()
	tr.MarkToMarket(map[string]float64{"FOOUSDT": 3}, now)

	p, ok := tr.Get("FOOUSDT")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.CurrentPrice)
	assert.Equal(t, 10.0, p.UnrealizedPnL)
	assert.Equal(t, 50.0, p.UnrealizedPnLPercent)
	assert.Equal(t, 3.0, p.HighWaterMark)

	tr.MarkToMarket(map[string]float64{"FOOUSDT": 2.5}, now)
	p, _ = tr.Get("FOOUSDT")
	assert.Equal(t, 3.0, p.HighWaterMark, "high water mark must not retreat on a lower price")
}

func TestTracker_MarkToMarketIgnoresUnknownSymbols(t *testing.T) {
	tr := New()
	tr.MarkToMarket(map[string]float64{"NOPE": 1}, time.Now())
	_, ok := tr.Get("NOPE")
	assert.False(t, ok)
}

func TestTracker_ConcurrentReduceOrCloseNeverOversells(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 100, EntryPrice: 1}, time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.ReduceOrClose("FOOUSDT", 10)
		}()
	}
	wg.Wait()

	p, ok := tr.Get("FOOUSDT")
	if ok {
		assert.GreaterOrEqual(t, p.Quantity, 0.0, "concurrent reductions must never drive quantity negative")
	}
}

func TestTracker_UpdateMutatesUnderLock(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Open(Position{Symbol: "FOOUSDT", Quantity: 1, EntryPrice: 1}, time.Now()))

	ok := tr.Update("FOOUSDT", func(p *Position) { p.TradeAttemptID = "att-1" })
	assert.True(t, ok)

	p, _ := tr.Get("FOOUSDT")
	assert.Equal(t, "att-1", p.TradeAttemptID)

	ok = tr.Update("NOPE", func(p *Position) {})
	assert.False(t, ok)
}
