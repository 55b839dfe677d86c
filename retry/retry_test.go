package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexcsniper/errkind"
)

func TestClassifier_RetriesNetworkAnd429And5xx(t *testing.T) {
	classify := Classifier(DefaultPolicy())

	assert.True(t, classify(errors.New("connection reset")), "unclassified errors are treated as transient")
	assert.True(t, classify(&errkind.Error{Kind: errkind.KindExchangeAPI, StatusCode: 429}))
	assert.True(t, classify(&errkind.Error{Kind: errkind.KindExchangeAPI, StatusCode: 503}))
	assert.False(t, classify(&errkind.Error{Kind: errkind.KindExchangeAPI, StatusCode: 400}))
}

func TestClassifier_NeverRetriesBusinessErrors(t *testing.T) {
	classify := Classifier(DefaultPolicy())

	assert.False(t, classify(&errkind.Error{Kind: errkind.KindTrading}))
	assert.False(t, classify(&errkind.Error{Kind: errkind.KindConfiguration}))
	assert.False(t, classify(&errkind.Error{Kind: errkind.KindSecurity}))
}

func TestClassifier_AllowCodesOverridesNonRetryableExchangeCode(t *testing.T) {
	p := DefaultPolicy()
	p.AllowCodes = map[string]struct{}{"CLOUDFLARE_BLOCK": {}}
	classify := Classifier(p)

	assert.True(t, classify(&errkind.Error{Kind: errkind.KindExchangeAPI, StatusCode: 403, Code: "CLOUDFLARE_BLOCK"}))
	assert.False(t, classify(&errkind.Error{Kind: errkind.KindExchangeAPI, StatusCode: 403, Code: "OTHER"}))
}

func TestClassifier_NilErrorIsNotRetryable(t *testing.T) {
	assert.False(t, Classifier(DefaultPolicy())(nil))
}

func TestDo_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUpToMaxRetriesThenReturnsLastError(t *testing.T) {
	p := Policy{MaxRetries: 2, Base: time.Millisecond, Multiplier: 1, Max: 10 * time.Millisecond, JitterFrac: 0}
	calls := 0
	wantErr := errors.New("boom")
	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls, "MaxRetries additional attempts means 1 + MaxRetries total calls")
}

func TestDo_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	p := Policy{MaxRetries: 5, Base: time.Millisecond, Multiplier: 1, Max: 10 * time.Millisecond}
	calls := 0
	wantErr := errors.New("fatal")
	err := Do(context.Background(), p, func(error) bool { return false }, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxRetries: 3, Base: time.Millisecond, Multiplier: 1, Max: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	p := Policy{MaxRetries: 10, Base: 50 * time.Millisecond, Multiplier: 1, Max: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
