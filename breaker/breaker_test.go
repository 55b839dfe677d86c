package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsOnThirdFailure(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, err := b.Allow(now)
		require.True(t, ok)
		require.NoError(t, err)
		b.Record(now, false)
		assert.Equal(t, Closed, b.State(now))
	}

	ok, err := b.Allow(now)
	require.True(t, ok)
	require.NoError(t, err)
	b.Record(now, false)

	assert.Equal(t, Open, b.State(now))
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	tripBreaker(b, now)
	require.Equal(t, Open, b.State(now))

	ok, err := b.Allow(now.Add(time.Second))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestBreaker_RecoversAfterResetTimeout(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	tripBreaker(b, now)
	require.Equal(t, Open, b.State(now))

	beforeTimeout := now.Add(cfg.ResetTimeout - time.Second)
	assert.Equal(t, Open, b.State(beforeTimeout))

	afterTimeout := now.Add(cfg.ResetTimeout + time.Second)
	assert.Equal(t, HalfOpen, b.State(afterTimeout))
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	tripBreaker(b, now)
	probeAt := now.Add(cfg.ResetTimeout + time.Second)
	require.Equal(t, HalfOpen, b.State(probeAt))

	ok, err := b.Allow(probeAt)
	require.True(t, ok)
	require.NoError(t, err)

	ok, err = b.Allow(probeAt)
	assert.False(t, ok, "a second caller during the half-open probe must be rejected")
	assert.Error(t, err)

	b.Record(probeAt, true)
	assert.Equal(t, Closed, b.State(probeAt))
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	tripBreaker(b, now)
	probeAt := now.Add(cfg.ResetTimeout + time.Second)
	require.Equal(t, HalfOpen, b.State(probeAt))

	ok, err := b.Allow(probeAt)
	require.True(t, ok)
	require.NoError(t, err)

	b.Record(probeAt, false)
	assert.Equal(t, Open, b.State(probeAt))
}

func TestBreaker_VolumeThresholdGatesSingleFailure(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	ok, err := b.Allow(now)
	require.True(t, ok)
	require.NoError(t, err)
	b.Record(now, false)

	assert.Equal(t, Closed, b.State(now), "one failure below VolumeThreshold must not trip the breaker")
}

func TestBreaker_OnTransitionNotifiesListeners(t *testing.T) {
	cfg := DefaultConfig()
	b := New("order", cfg)
	now := time.Now()

	var transitions [][2]State
	b.OnTransition(func(group string, from, to State) {
		assert.Equal(t, "order", group)
		transitions = append(transitions, [2]State{from, to})
	})

	tripBreaker(b, now)

	require.Len(t, transitions, 1)
	assert.Equal(t, Closed, transitions[0][0])
	assert.Equal(t, Open, transitions[0][1])
}

func tripBreaker(b *Breaker, now time.Time) {
	for i := 0; i < 3; i++ {
		b.Allow(now)
		b.Record(now, false)
	}
}
