package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexcsniper/clock"
	"mexcsniper/eventbus"
)

func TestSupervisor_StartRunsComponentsUntilStop(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	comp := func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	}

	s := New(clock.NewFixed(time.Now()), eventbus.New(), nil, zerolog.Nop(), "v1", comp)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("component never started")
	}
	assert.True(t, s.StatusNow().IsRunning)

	s.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("component never observed cancellation")
	}
	assert.False(t, s.StatusNow().IsRunning)
}

func TestSupervisor_StartIsIdempotentWhileRunning(t *testing.T) {
	calls := 0
	comp := func(ctx context.Context) {
		calls++
		<-ctx.Done()
	}
	s := New(clock.NewFixed(time.Now()), eventbus.New(), nil, zerolog.Nop(), "v1", comp)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	assert.Equal(t, 1, calls, "a second Start while RUNNING must not restart components")
}

func TestSupervisor_StopWhileStoppedIsNoop(t *testing.T) {
	s := New(clock.NewFixed(time.Now()), eventbus.New(), nil, zerolog.Nop(), "v1")
	s.Stop()
	assert.False(t, s.StatusNow().IsRunning)
}

func TestSupervisor_StatusNowReportsUptimeWhileRunning(t *testing.T) {
	start := time.Now()
	clk := clock.NewFixed(start)
	comp := func(ctx context.Context) { <-ctx.Done() }
	s := New(clk, eventbus.New(), nil, zerolog.Nop(), "v1", comp)

	require.NoError(t, s.Start(context.Background()))
	clk.Set(start.Add(10 * time.Second))

	st := s.StatusNow()
	assert.Equal(t, int64(10), st.UptimeSeconds)
	assert.Equal(t, "v1", st.Version)

	s.Stop()
	assert.Equal(t, int64(0), s.StatusNow().UptimeSeconds, "uptime must report zero once stopped")
}

func TestSupervisor_RestartWaitsGuardThenRestarts(t *testing.T) {
	starts := 0
	comp := func(ctx context.Context) {
		starts++
		<-ctx.Done()
	}
	s := New(clock.Real(), eventbus.New(), nil, zerolog.Nop(), "v1", comp)
	require.NoError(t, s.Start(context.Background()))

	before := time.Now()
	require.NoError(t, s.Restart(context.Background()))
	elapsed := time.Since(before)

	assert.GreaterOrEqual(t, elapsed, RestartGuard)
	assert.Equal(t, 2, starts)
	assert.True(t, s.StatusNow().IsRunning)
	s.Stop()
}
