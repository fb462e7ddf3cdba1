package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures_go/internal/algo"
	"futures_go/internal/app"
	"futures_go/internal/domain"
	"futures_go/internal/engine"
	"futures_go/internal/execution"
	"futures_go/internal/feed"
	"futures_go/internal/infra/audit"
	"futures_go/internal/infra/broker"
	"futures_go/internal/infra/history"
	"futures_go/internal/marketdata"
	"futures_go/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Local overrides (.env is optional)
	_ = godotenv.Load()

	// 2. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config
	store := bootstrap.Storage

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Instrument metadata (background, non-blocking)
	go bootstrap.SeedInstruments()

	// 6. Audit trail
	auditLog := audit.NewWebhookLogger(cfg.Audit.WebhookURL, cfg.App.Name,
		time.Duration(cfg.Audit.TimeoutMS)*time.Millisecond)

	// 7. Broker REST client + streaming feed
	api := broker.NewClient(cfg)
	feedClient := feed.NewClient(feed.Options{
		Config: cfg,
		API:    api,
		Streams: func(quotes chan<- *domain.Quote) feed.StreamTransport {
			return broker.NewStream(cfg.Broker.WSURL, quotes)
		},
		Audit:       auditLog,
		Instruments: store,
		Bars:        store,
	})
	if err := feedClient.Start(ctx, cfg.Feed.Symbols); err != nil {
		slog.Error("❌ Feed start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer feedClient.Stop()
	slog.InfoContext(ctx, "✅ Feed client started", slog.Int("symbols", len(cfg.Feed.Symbols)))

	// 8. Historical bar poller (volume profiles)
	if cfg.History.URL != "" {
		poller := history.NewPoller(cfg, store, cfg.Feed.Symbols)
		poller.Start(ctx)
		defer poller.Stop()
		slog.InfoContext(ctx, "✅ History poller started")
	}

	// 9. Execution bridge behind the stage gate. VWAP volume profiles are
	// rebuilt on demand from the bars the history poller persists.
	profiles := algo.NewProfileCache(store,
		time.Duration(cfg.History.LookbackDays)*24*time.Hour, algo.DefaultBucketMinutes)
	gate := execution.NewGate(cfg.Execution.SimulationOverride, api, store, cfg.App.Name)
	bridge := execution.NewBridge(execution.Options{
		Config:      cfg,
		API:         api,
		Gate:        gate,
		Market:      feedClient,
		Instruments: store,
		Audit:       auditLog,
		Profiles:    profiles,
	})
	slog.InfoContext(ctx, "✅ Execution bridge ready")

	// 10. Strategy engine (the hotpath loop)
	// Example Strategy: SMA Cross (3, 5) on the first configured root's
	// front-month contract.
	frontMonth := marketdata.FrontMonthContract(cfg.Feed.Symbols[0], time.Now(), cfg.Feed.RollDays)
	strat := strategy.NewSMACrossStrategy(frontMonth, 3, 5, decimal.NewFromInt(1))

	eng := engine.New(feedClient, bridge, strat)
	go eng.Run(ctx)
	slog.InfoContext(ctx, "✅ Engine (Hotpath) started", slog.String("contract", frontMonth))

	slog.InfoContext(ctx, "✨ Futures Go fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
