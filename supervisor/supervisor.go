// Package supervisor implements the Bot Supervisor state machine from
// spec §4.12: STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED, with
// heartbeats; a Supervisor never runs its components twice at once. Grounded on the
// teacher's auto_trader.go Run/Stop lifecycle (isRunning flag,
// stopMonitorCh, monitorWg), generalized to a multi-component supervisor.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexcsniper/clock"
	"mexcsniper/creds"
	"mexcsniper/eventbus"
	"mexcsniper/metrics"
)

// State is spec §4.12's lifecycle enum.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// HeartbeatInterval is spec §4.12's default RUNNING heartbeat cadence.
const HeartbeatInterval = 5 * time.Second

// RestartGuard is the minimum pause spec §4.12 requires between stop and
// the following start during a restart.
const RestartGuard = 1 * time.Second

// Component is a long-running collaborator the supervisor starts and
// stops alongside the detection/sell/creds loops.
type Component func(ctx context.Context)

// Supervisor owns the bot's lifecycle state machine.
type Supervisor struct {
	clock   clock.Clock
	bus     *eventbus.Bus
	log     zerolog.Logger
	creds   *creds.Validator
	version string

	components []Component

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastHeartbeat time.Time
	startedAt     time.Time
}

// New builds a Supervisor. components are started as goroutines on Start
// and canceled via context on Stop.
func New(clk clock.Clock, bus *eventbus.Bus, credsValidator *creds.Validator, log zerolog.Logger, version string, components ...Component) *Supervisor {
	return &Supervisor{
		clock:      clk,
		bus:        bus,
		creds:      credsValidator,
		log:        log.With().Str("component", "supervisor").Logger(),
		version:    version,
		components: components,
		state:      StateStopped,
	}
}

// Start transitions STOPPED -> STARTING -> RUNNING, starting every
// registered component plus the heartbeat loop. A Start while this
// Supervisor is STARTING or RUNNING is a no-op; the guard is per
// Supervisor value, and nothing stops a second Supervisor in the same
// process from running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = s.clock.Now()
	s.lastHeartbeat = s.startedAt
	s.mu.Unlock()

	for _, c := range s.components {
		c := c
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c(runCtx)
		}()
	}

	if s.creds != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.creds.Run(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(runCtx)
	}()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// Stop transitions RUNNING -> STOPPING -> STOPPED, canceling every
// component and waiting for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// Restart stops then starts with the spec §4.12 1s guard between.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	t := time.NewTimer(RestartGuard)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx)
}

// Status is a read of spec §3's BotStatus.
type Status struct {
	IsRunning         bool
	LastHeartbeat     time.Time
	ExchangeAPIStatus string
	APIResponseTimeMs float64
	UptimeSeconds     int64
	Version           string
}

// StatusNow reads the current status, including the exchangeApiStatus
// from the Credential Validator.
func (s *Supervisor) StatusNow() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiStatus := "OK"
	var responseTime float64
	if s.creds != nil {
		st, ewma := s.creds.Status()
		apiStatus = string(st)
		responseTime = ewma
	}

	var uptime int64
	if s.state == StateRunning {
		uptime = int64(s.clock.Now().Sub(s.startedAt).Seconds())
	}

	return Status{
		IsRunning:         s.state == StateRunning,
		LastHeartbeat:     s.lastHeartbeat,
		ExchangeAPIStatus: apiStatus,
		APIResponseTimeMs: responseTime,
		UptimeSeconds:     uptime,
		Version:           s.version,
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.beat()
		}
	}
}

func (s *Supervisor) beat() {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()

	metrics.SetBotRunning(true)
	st := s.StatusNow()
	s.bus.PublishBotStatus(now, eventbus.BotStatus{
		IsRunning:         st.IsRunning,
		LastHeartbeat:     now.UnixMilli(),
		ExchangeAPIStatus: st.ExchangeAPIStatus,
		APIResponseTime:   st.APIResponseTimeMs,
		Uptime:            st.UptimeSeconds,
	})
}
