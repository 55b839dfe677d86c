package signal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "FOOUSDT", NormalizeSymbol("foo"))
	assert.Equal(t, "FOOUSDT", NormalizeSymbol(" FooUsdt "))
	assert.Equal(t, "FOOBTC", NormalizeSymbol("foobtc"))
	assert.Equal(t, "FOOETH", NormalizeSymbol("FOOETH"))
}

func TestListingSignal_IsFresh(t *testing.T) {
	now := time.Now()
	sig := NewSignal("id-1", "FOOUSDT", SourceCalendar, nil, ConfidenceHigh, now)

	assert.True(t, sig.IsFresh(now))
	assert.True(t, sig.IsFresh(sig.FreshnessDeadline))
	assert.False(t, sig.IsFresh(sig.FreshnessDeadline.Add(time.Nanosecond)))
}

func TestMergeByAuthority_PrefersHigherAuthoritySource(t *testing.T) {
	candidates := []Candidate{
		{Symbol: "FOOUSDT", Source: SourceTickerDiff},
		{Symbol: "FOOUSDT", Source: SourceCalendar},
		{Symbol: "BARUSDT", Source: SourceExchangeInfo},
	}
	merged := MergeByAuthority(candidates)

	require.Len(t, merged, 2)
	assert.Equal(t, SourceCalendar, merged[0].Source)
	assert.Equal(t, SourceExchangeInfo, merged[1].Source)
}

func TestMergeByAuthority_KeepsFirstWinnerOrder(t *testing.T) {
	candidates := []Candidate{
		{Symbol: "BARUSDT", Source: SourceTickerDiff},
		{Symbol: "FOOUSDT", Source: SourceTickerDiff},
		{Symbol: "BARUSDT", Source: SourceCalendar},
	}
	merged := MergeByAuthority(candidates)

	require.Len(t, merged, 2)
	assert.Equal(t, "BARUSDT", merged[0].Symbol)
	assert.Equal(t, "FOOUSDT", merged[1].Symbol)
}

func TestValidateRecvWindow_Boundaries(t *testing.T) {
	assert.False(t, ValidateRecvWindow(0))
	assert.True(t, ValidateRecvWindow(1))
	assert.True(t, ValidateRecvWindow(1000))
	assert.False(t, ValidateRecvWindow(1001))
}

func TestValidatePriceTolerance_Boundaries(t *testing.T) {
	assert.False(t, ValidatePriceTolerance(0))
	assert.True(t, ValidatePriceTolerance(0.1))
	assert.True(t, ValidatePriceTolerance(50))
	assert.False(t, ValidatePriceTolerance(50.01))
}

// fakeStore implements Store with an in-memory set of (symbol, source)
// recordings, plus an optional induced error for the fail-open test.
type fakeStore struct {
	recorded map[string]time.Time
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recorded: map[string]time.Time{}}
}

func (f *fakeStore) key(symbol string, source Source) string {
	return string(source) + ":" + symbol
}

func (f *fakeStore) FindWithin(ctx context.Context, symbol string, source Source, now time.Time, window time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	t, ok := f.recorded[f.key(symbol, source)]
	if !ok {
		return false, nil
	}
	return now.Sub(t) <= window, nil
}

func (f *fakeStore) Save(ctx context.Context, sig ListingSignal) error {
	f.recorded[f.key(sig.Symbol, sig.Source)] = sig.DetectedAt
	return nil
}

func TestDeduplicator_AdmitAllNeverExceedsUniqueCandidateCount(t *testing.T) {
	store := newFakeStore()
	dedup := NewDeduplicator(store, zerolog.Nop())
	now := time.Now()

	candidates := []Candidate{
		{Symbol: "FOOUSDT", Source: SourceCalendar, DetectedAt: now},
		{Symbol: "FOOUSDT", Source: SourceCalendar, DetectedAt: now},
		{Symbol: "BARUSDT", Source: SourceTickerDiff, DetectedAt: now},
	}

	require.NoError(t, store.Save(context.Background(), NewSignal("", "FOOUSDT", SourceCalendar, nil, ConfidenceHigh, now)))

	admitted := dedup.AdmitAll(context.Background(), candidates, now)

	assert.LessOrEqual(t, len(admitted), 2, "FOOUSDT and BARUSDT are the only unique candidates")
	for _, c := range admitted {
		assert.NotEqual(t, "FOOUSDT", c.Symbol, "a symbol already recorded within the window must be dropped")
	}
}

func TestDeduplicator_AdmitsAfterWindowElapses(t *testing.T) {
	store := newFakeStore()
	dedup := NewDeduplicator(store, zerolog.Nop())
	now := time.Now()

	require.NoError(t, store.Save(context.Background(), NewSignal("", "FOOUSDT", SourceCalendar, nil, ConfidenceHigh, now)))

	assert.False(t, dedup.Admit(context.Background(), Candidate{Symbol: "FOOUSDT", Source: SourceCalendar}, now.Add(DedupWindow-time.Second)))
	assert.True(t, dedup.Admit(context.Background(), Candidate{Symbol: "FOOUSDT", Source: SourceCalendar}, now.Add(DedupWindow+time.Second)))
}

func TestDeduplicator_FailsOpenOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = assertError{}
	dedup := NewDeduplicator(store, zerolog.Nop())

	admitted := dedup.Admit(context.Background(), Candidate{Symbol: "FOOUSDT", Source: SourceCalendar}, time.Now())
	assert.True(t, admitted, "a store error must fail open rather than block the signal")
}

type assertError struct{}

func (assertError) Error() string { return "induced store error" }
