// Command sniperd is the composition root: it wires every collaborator
// named in SPEC_FULL.md §5, starts the Bot Supervisor, and exposes the
// ambient gin admin surface (/healthz, /metrics, /debug/status). Grounded
// on the teacher's SynapseStrike/api/tactics.go gin handler idiom.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"mexcsniper/attemptstore"
	"mexcsniper/clock"
	"mexcsniper/config"
	"mexcsniper/creds"
	"mexcsniper/detector"
	"mexcsniper/eventbus"
	"mexcsniper/exchange"
	"mexcsniper/executor"
	"mexcsniper/logging"
	"mexcsniper/metrics"
	"mexcsniper/orchestrator"
	"mexcsniper/position"
	"mexcsniper/risk"
	"mexcsniper/rules"
	"mexcsniper/sellengine"
	"mexcsniper/signal"
	"mexcsniper/signalstore"
	"mexcsniper/supervisor"
	"mexcsniper/tradeconfig"
)

// Version is the build-time version string surfaced in BotStatus.
var Version = "dev"

// Exit codes per spec §6: 0 clean stop, 1 configuration error, 2
// auth/credential error, 3 unrecoverable runtime, 130 SIGINT.
const (
	exitConfigError   = 1
	exitCredentialErr = 2
	exitRuntimeErr    = 3
	exitSIGINT        = 130
)

const defaultUserID = "default"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}

	log := logging.New(cfg.LogLevel)
	clk := clock.Real()
	bus := eventbus.New()

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return exitRuntimeErr
	}
	defer db.Close()

	tradeCfgStore, err := tradeconfig.New(db)
	if err != nil {
		log.Error().Err(err).Msg("failed to init tradeconfig store")
		return exitRuntimeErr
	}
	sigStore, err := signalstore.New(db)
	if err != nil {
		log.Error().Err(err).Msg("failed to init signal store")
		return exitRuntimeErr
	}
	attStore, err := attemptstore.New(db)
	if err != nil {
		log.Error().Err(err).Msg("failed to init attempt store")
		return exitRuntimeErr
	}

	exClient := exchange.New(exchange.Options{
		BaseURL:   cfg.ExchangeBaseURL,
		APIKey:    cfg.ExchangeAPIKey,
		SecretKey: cfg.ExchangeSecretKey,
		Clock:     clk,
		Logger:    log,
		Metrics:   metrics.Sink{},
	})

	if _, err := exClient.GetAccountInfo(context.Background()); err != nil {
		log.Error().Err(err).Msg("initial credential probe failed")
		return exitCredentialErr
	}

	rulesCache := rules.New(exClient, clk)
	if err := rulesCache.LoadRules(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial rules load failed, will retry lazily")
	}

	positions := position.New()
	ledger := risk.NewLedger()
	exec := executor.New(exClient, rulesCache, positions, attStore, ledger, bus, clk, log, defaultUserID)

	dedup := signal.NewDeduplicator(sigStore, log)
	scanners := []detector.Scanner{
		detector.NewCalendarScanner(exClient, clk),
		detector.NewTickerDiffScanner(exClient, clk),
		detector.NewExchangeInfoScanner(exClient, clk),
	}

	dispatcher := &signalDispatcher{exec: exec, exClient: exClient, tradeCfgStore: tradeCfgStore, attStore: attStore}
	orch := orchestrator.New(scanners, dedup, sigStore, dispatcher, clk, uuid.NewString, log)

	credsValidator := creds.New(exClient, clk, log, 30*time.Second)

	configFor := func(symbol string) (tradeconfig.Configuration, bool) {
		c, err := tradeCfgStore.GetActive(context.Background(), defaultUserID)
		if err != nil || c == nil {
			return tradeconfig.Configuration{}, false
		}
		return *c, true
	}
	seller := sellengine.SellerFunc(func(ctx context.Context, symbol string, qty *float64, reason string) error {
		_, err := exec.ExecuteSellTrade(ctx, symbol, qty, reason)
		return err
	})
	sellEngine := sellengine.New(positions, configFor, seller, clk, log)

	sup := supervisor.New(clk, bus, credsValidator, log, Version,
		func(ctx context.Context) { orch.Run(ctx) },
		func(ctx context.Context) { sellEngine.Run(ctx) },
		markToMarketLoop(positions, exClient, clk),
	)

	return serve(bus, sup, log)
}

func markToMarketLoop(positions *position.Tracker, exClient exchange.Client, clk clock.Clock) func(ctx context.Context) {
	return func(ctx context.Context) {
		t := time.NewTicker(2 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				prices := map[string]float64{}
				for _, p := range positions.List() {
					ticker, err := exClient.GetTicker(ctx, p.Symbol)
					if err != nil {
						continue
					}
					if v, err := parsePrice(ticker.Price); err == nil {
						prices[p.Symbol] = v
					}
				}
				positions.MarkToMarket(prices, clk.Now())
			}
		}
	}
}

// signalDispatcher adapts a dispatch-ready signal.ListingSignal into an
// executor.ExecuteTrade call, the wiring the orchestrator.Dispatcher
// interface expects.
type signalDispatcher struct {
	exec          *executor.Executor
	exClient      exchange.Client
	tradeCfgStore *tradeconfig.Store
	attStore      *attemptstore.Store
}

func (d *signalDispatcher) Dispatch(ctx context.Context, sig signal.ListingSignal) {
	cfg, err := d.tradeCfgStore.GetActive(ctx, defaultUserID)
	if err != nil || cfg == nil {
		return
	}
	ticker, err := d.exClient.GetTicker(ctx, sig.Symbol)
	if err != nil {
		return
	}
	price, err := parsePrice(ticker.Price)
	if err != nil {
		return
	}
	_, _ = d.exec.ExecuteTrade(ctx, cfg, sig, price, d.attStore)
}

func parsePrice(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	return v, err
}

func serve(bus *eventbus.Bus, sup *supervisor.Supervisor, log zerolog.Logger) int {
	if err := sup.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to start supervisor")
		return exitRuntimeErr
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/debug/status", func(c *gin.Context) {
		st := sup.StatusNow()
		c.JSON(http.StatusOK, gin.H{
			"isRunning":         st.IsRunning,
			"lastHeartbeat":     st.LastHeartbeat,
			"exchangeApiStatus": st.ExchangeAPIStatus,
			"apiResponseTimeMs": st.APIResponseTimeMs,
			"uptimeSeconds":     st.UptimeSeconds,
			"version":           st.Version,
		})
	})

	wsHandler := eventbus.NewHandler(bus, log)
	for _, path := range []string{"/", "/bot", "/alerts", "/performance"} {
		r.GET(path, gin.WrapH(wsHandler))
	}

	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		_ = srv.ListenAndServe()
	}()

	<-waitForInterrupt()
	sup.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return exitSIGINT
}

func waitForInterrupt() <-chan struct{} {
	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()
	return done
}
