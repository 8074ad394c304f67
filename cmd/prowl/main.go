package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sku-agent/prowl/api"
	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/coordinator"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/metrics"
	"github.com/sku-agent/prowl/probe"
	"github.com/sku-agent/prowl/retry"
	"github.com/sku-agent/prowl/runner"
	"github.com/sku-agent/prowl/scraper"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("prowl starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxWorkers", cfg.Runner.MaxWorkers,
	)

	// ── 3. Load per-site scraper configs ────────────────────────────
	siteConfigs, err := config.LoadScraperConfigs(cfg.Runner.ConfigDir)
	if err != nil {
		slog.Error("failed to load scraper configs", "dir", cfg.Runner.ConfigDir, "error", err)
		os.Exit(1)
	}
	if len(siteConfigs) == 0 {
		slog.Error("no scraper configs found", "dir", cfg.Runner.ConfigDir)
		os.Exit(1)
	}
	slog.Info("scraper configs loaded", "count", len(siteConfigs))

	// ── 4. Shared execution state ───────────────────────────────────
	registry := scraper.NewRegistry()
	strategy := retry.NewStrategy(cfg.Retry.HistoryPath)
	breaker := retry.NewBreaker(retry.DefaultBreakerConfig())

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.New(promReg)
	breaker.OnTransition(func(key, from, to string) {
		slog.Warn("circuit breaker transition", "key", key, "from", from, "to", to)
		mc.ObserveTransition(key, to)
	})

	// ── 5. Event bus + websocket hub ────────────────────────────────
	bus, err := events.NewBus(cfg.Events.BufferSize, cfg.Events.PersistPath, slog.Default())
	if err != nil {
		slog.Error("failed to initialise event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()
	bus.Subscribe(func(e events.Event) { mc.ObserveEvent(string(e.Type)) })
	hub := events.NewHub(bus, slog.Default())
	defer hub.Close()

	// ── 6. Job runner ───────────────────────────────────────────────
	jobRunner, err := runner.New(runner.Options{
		Configs:  siteConfigs,
		Registry: registry,
		Strategy: strategy,
		Breaker:  breaker,
		Bus:      bus,
		Metrics:  mc,
		Prober:   probe.New(cfg.Browser.DefaultProxy),
		Cache:    runner.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		NewDriver: func(site *config.ScraperConfig) (browser.Driver, error) {
			return browser.NewRodDriver(cfg.Browser, site.AntiDetection, slog.Default())
		},
		MaxWorkers:     cfg.Runner.MaxWorkers,
		StepTimeout:    cfg.Runner.DefaultStepTimeout,
		SessionTimeout: cfg.Session.Timeout,
		PollInterval:   cfg.Browser.PollInterval,
		OutputDir:      cfg.Runner.OutputDir,
	})
	if err != nil {
		slog.Error("failed to initialise runner", "error", err)
		os.Exit(1)
	}

	// ── 7. Coordinator callback client ──────────────────────────────
	coord := coordinator.New(cfg.Coordinator, hostname(), slog.Default())
	if coord.Enabled() {
		slog.Info("coordinator callbacks enabled", "url", cfg.Coordinator.CallbackURL)
	}

	// ── 8. Router + HTTP server ─────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(api.Deps{
		Runner:   jobRunner,
		Configs:  siteConfigs,
		Breaker:  breaker,
		Bus:      bus,
		Hub:      hub,
		Coord:    coord,
		Registry: promReg,
		Config:   cfg,
	}, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	if err := strategy.Save(); err != nil {
		slog.Warn("retry history save failed", "error", err)
	}
	slog.Info("prowl stopped")
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
