package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"TickSentinel/internal/config"
	"TickSentinel/internal/feed"
	"TickSentinel/internal/fetch"
	"TickSentinel/internal/metrics"
	"TickSentinel/internal/model"
	"TickSentinel/internal/notifier"
	"TickSentinel/internal/resolution"
	"TickSentinel/internal/scheduler"
	"TickSentinel/internal/server"
	sigbus "TickSentinel/internal/signal"
	"TickSentinel/internal/store"
	"TickSentinel/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] TickSentinel starting...")

	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	res, err := resolution.Normalize(cfg.Strategy.Resolution)
	if err != nil {
		log.Fatalf("[FATAL] strategy.resolution: %v", err)
	}

	// Init candle store
	cs, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] init candle store: %v", err)
	}
	defer cs.Close()

	// Init fetcher
	broker := fetch.NewHTTPBroker(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Proxy)
	fetcher := fetch.NewHistoricalFetcher(broker, cs, cfg.Strategy.MaxFetchPerMinute)
	log.Printf("[INFO] broker: %s", broker.Name())

	// Init bus and engine
	bus := sigbus.NewBus()
	engine := strategy.NewEngine(cs, fetcher, bus, res)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, engine, fetcher, cfg.Symbols)
	if err := sched.RegisterAll(cfg.Schedule.RefreshCron, cfg.Schedule.PrecacheCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// HTTP surface + metrics
	srv := server.New(cfg.Server.Addr, engine, bus)
	srv.Start()
	defer srv.Stop(context.Background())
	metricsSrv := metrics.Serve(cfg.Server.MetricsAddr)
	defer metricsSrv.Close()

	// Market data feed
	f := feed.New(cfg.Broker.WSURL, cfg.Broker.APIKey, cfg.Symbols, func(ctx context.Context, tick model.Tick) {
		if _, err := engine.Tick(ctx, tick.Symbol, tick.LTP, tick.Volume); err != nil {
			log.Printf("[ERROR] tick %s: %v", tick.Symbol, err)
		}
	})
	go f.Run(ctx)
	log.Printf("[INFO] market feed started for %d symbols", len(cfg.Symbols))

	// Optional Telegram relay
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		go tn.Watch(ctx, bus)
		log.Println("[INFO] Telegram notifier started")
	}

	// Optional: warm the daily partitions immediately
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, precaching now")
		go sched.RunPrecacheNow()
	}

	log.Println("[INFO] TickSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] TickSentinel stopped")
}
