// Package main is the entry point for the SuperTrend options engine.
//
// The engine:
//  1. Loads EngineConfig
//  2. Initializes the market calendar, broker adapter, and trade journal
//  3. Recovers any Position left OPEN/CLOSING by a prior crash
//  4. Runs the strategy instance's Engine Loop on a 1-second cadence
//  5. Publishes state snapshots over a WebSocket endpoint
//  6. Accepts config hot-reload and start/stop/squareoff signals
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optioncore/supertrend-engine/internal/broker"
	"github.com/optioncore/supertrend-engine/internal/clock"
	"github.com/optioncore/supertrend-engine/internal/config"
	"github.com/optioncore/supertrend-engine/internal/engine"
	"github.com/optioncore/supertrend-engine/internal/engine/transport"
	"github.com/optioncore/supertrend-engine/internal/execution"
	"github.com/optioncore/supertrend-engine/internal/journal"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	wsAddr := flag.String("ws-addr", ":8090", "address the snapshot WebSocket server listens on")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("config loaded: instance=%s broker=%s mode=%s index=%s interval=%ds",
		cfg.StrategyInstanceID, cfg.ActiveBroker, cfg.TradingMode, cfg.IndexRoot, cfg.IntervalSeconds)

	// ── Live mode safety gate ──
	// Both --confirm-live AND ENGINE_LIVE_CONFIRMED=true are required to
	// start in live mode, preventing accidental live trading.
	if cfg.TradingMode == config.ModeLive {
		envConfirmed := os.Getenv("ENGINE_LIVE_CONFIRMED") == "true"
		if !*confirmLive || !envConfirmed {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
			fmt.Fprintln(os.Stderr, "  ║                    LIVE MODE BLOCKED                       ║")
			fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
			fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:         ║")
			fmt.Fprintln(os.Stderr, "  ║                                                             ║")
			fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                             ║")
			fmt.Fprintln(os.Stderr, "  ║  2. Env var:    ENGINE_LIVE_CONFIRMED=true                 ║")
			fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
			fmt.Fprintln(os.Stderr, "")
			if !*confirmLive {
				fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
			}
			if !envConfirmed {
				fmt.Fprintln(os.Stderr, "  MISSING: ENGINE_LIVE_CONFIRMED=true environment variable")
			}
			os.Exit(1)
		}
		logger.Println("LIVE MODE ACTIVE — real orders will be placed on the exchange")
	} else {
		logger.Println("PAPER MODE — simulated orders only, no real money at risk")
	}

	cal, err := clock.NewCalendar(cfg.MarketCalendarPath, clock.Config{
		EntryOpenIST:   cfg.Session.EntryOpenIST,
		EntryCloseIST:  cfg.Session.EntryCloseIST,
		ForceFlatIST:   cfg.Session.ForceFlatIST,
		SessionOpenIST: cfg.Session.SessionOpenIST,
		SessionEndIST:  cfg.Session.SessionEndIST,
	})
	if err != nil {
		logger.Fatalf("failed to load market calendar: %v", err)
	}

	activeBroker, err := newBroker(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to initialize broker %q: %v", cfg.ActiveBroker, err)
	}

	store, err := journal.NewPostgresStore(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect trade journal: %v", err)
	}
	defer store.Close()

	bcast := engine.NewBroadcaster(logger)
	pool := execution.NewWorkerPool(cfg.WorkerPoolConcurrency)
	registry := engine.NewInstanceRegistry(logger)

	loop := engine.New(engine.Config{
		StrategyInstanceID:   cfg.StrategyInstanceID,
		IndexRef:             cfg.IndexRef(),
		IntervalSeconds:      cfg.IntervalSeconds,
		HeartbeatInterval:    cfg.HeartbeatInterval(),
		SuperTrendPeriod:     cfg.SuperTrendPeriod,
		SuperTrendMultiplier: cfg.SuperTrendMultiplier,
		UseMacd:              cfg.UseMacd,
		MacdFast:             cfg.MacdFast,
		MacdSlow:             cfg.MacdSlow,
		MacdSignal:           cfg.MacdSignal,
		Risk:                 cfg.RiskEvaluatorConfig(),
		Entry:                cfg.EntryEvaluatorConfig(),
		Execution:            cfg.ExecutionConfig(),
		CircuitBreaker:       cfg.CircuitBreakerEvaluatorConfig(),
	}, cal, activeBroker, pool, store, bcast, logger)

	if cfg.Postback.Enabled {
		pb := broker.NewPostbackListener(broker.PostbackConfig{Port: cfg.Postback.Port, Path: cfg.Postback.Path, Enabled: cfg.Postback.Enabled}, logger)
		pb.OnFillHint(loop.Executor().HintFill)
		go func() {
			if err := pb.Start(); err != nil {
				logger.Printf("postback listener: %v", err)
			}
		}()
		defer pb.Shutdown(context.Background())
	}

	listener := journal.NewListener(cfg.DatabaseURL, logger)
	listener.OnChange(func(ev journal.ChangeEvent) {
		logger.Printf("journal change: %s %s", ev.Kind, ev.TradeID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener.Start(ctx)
	defer listener.Stop()

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnChange(func(old, new *config.Config) {
		loop.UpdateConfig(new.RiskEvaluatorConfig())
	})
	if err := watcher.Start(); err != nil {
		logger.Printf("config watcher: %v", err)
	}
	defer watcher.Stop()

	wsServer := transport.NewServer(bcast, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.Handler())
	httpServer := &http.Server{Addr: *wsAddr, Handler: mux}
	go func() {
		logger.Printf("snapshot websocket listening on %s/ws", *wsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("websocket server: %v", err)
		}
	}()

	if err := registry.Start(ctx, cfg.StrategyInstanceID, loop.Run, loop.PositionOpen); err != nil {
		logger.Fatalf("failed to start instance %s: %v", cfg.StrategyInstanceID, err)
	}
	logger.Printf("instance %s running", cfg.StrategyInstanceID)

	<-ctx.Done()
	logger.Println("shutdown signal received, stopping instance")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	// Process shutdown already cancelled the loop's context via ctx.Done()
	// above. While a Position is open, StopGraceful refuses and returns an
	// error, which is logged below; the Position stays in the journal for
	// recoverOpenPosition to reattach to on restart.
	if err := registry.Stop(cfg.StrategyInstanceID, engine.StopGraceful); err != nil {
		logger.Printf("stop instance: %v", err)
	}
	logger.Println("shutdown complete")
}

func newBroker(cfg *config.Config, logger *log.Logger) (broker.Broker, error) {
	if cfg.TradingMode == config.ModePaper {
		logger.Println("using PAPER broker")
		return broker.NewPaperBroker(), nil
	}
	brokerCfg, ok := cfg.BrokerConfig[cfg.ActiveBroker]
	if !ok {
		return nil, fmt.Errorf("no broker config found for %q", cfg.ActiveBroker)
	}
	logger.Printf("using LIVE broker: %s", cfg.ActiveBroker)
	return broker.New(cfg.ActiveBroker, brokerCfg)
}
