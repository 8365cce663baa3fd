package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ovbus/internal/cache"
	"ovbus/internal/config"
	"ovbus/internal/domain"
	"ovbus/internal/handler"
	"ovbus/internal/hub"
	"ovbus/internal/metrics"
	"ovbus/internal/middleware"
	"ovbus/internal/poller"
	"ovbus/internal/reconcile"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
	"ovbus/pkg/gtfs"
	"ovbus/pkg/gtfsrt"
	"ovbus/pkg/ovapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ovbus server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"line", cfg.LineNumber,
		"operator", cfg.OperatorCode,
		"default_tpc", cfg.DefaultTPC,
	)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	refStore := refdata.NewStore()
	downloader := gtfs.NewDownloader(cfg.GTFSStaticURL, logger)
	parser := gtfs.NewParser(cfg.OperatorCode, cfg.LineNumber, logger)
	refresher := refdata.NewRefresher(downloader, parser, refStore, cfg.SnapshotDir, m, logger)

	live := store.NewLiveStore()
	liveHub := hub.NewHub(logger)

	ovapiClient := ovapi.New(cfg.OVAPIBaseURL, cfg.OperatorCode, cfg.LineNumber, cfg.NightLineCode)
	rtClient := gtfsrt.New(cfg.VehiclePositionsURL, cfg.TripUpdatesURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector, err := poller.NewDetector(cfg.ZeroVehicleLimit, cfg.OperatingHoursStart, cfg.OperatingHoursEnd, loc, func() {
		go func() {
			if _, err := refresher.TryRefresh(ctx, "zero_vehicles"); err != nil {
				logger.Error("refresh after zero-vehicle streak failed", "error", err)
			}
		}()
	})
	if err != nil {
		logger.Error("invalid operating hours", "error", err)
		os.Exit(1)
	}

	engine := reconcile.NewEngine(refStore, loc, cfg.MatchTolerance, cfg.DestinationFor(domain.Direction1), cfg.DestinationFor(domain.Direction2), logger)

	feedPoller := poller.New(poller.Options{
		VehicleInterval:    cfg.VehiclePollInterval,
		TripUpdateInterval: cfg.TripUpdatePollInterval,
		DepartureInterval:  cfg.DeparturePollInterval,
		MaxBackoff:         cfg.MaxBackoff,
		DepartedGrace:      cfg.DepartedGrace,
		DefaultTPC:         cfg.DefaultTPC,
	}, ovapiClient, rtClient, refStore, live, liveHub, detector, m, logger)

	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "error", err)
		} else {
			defer redisCache.Close()
		}
	}

	departuresHandler := handler.NewDeparturesHandler(live, engine, ovapiClient, redisCache, cfg.CacheTTL, cfg.DefaultTPC, cfg.DefaultDirection, logger)
	vehiclesHandler := handler.NewVehiclesHandler(live)
	routeHandler := handler.NewRouteHandler(refStore)
	statusHandler := handler.NewStatusHandler(live, refStore, liveHub)
	sseHandler := handler.NewSSEHandler(liveHub, live, refStore, m, cfg.HeartbeatInterval, logger)
	wsHandler := handler.NewWSHandler(liveHub, live, refStore, m, logger)
	healthHandler := handler.NewHealthHandler(refStore, live)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/departures", departuresHandler.ListDepartures)
	mux.HandleFunc("GET /v1/vehicles", vehiclesHandler.ListVehicles)
	mux.HandleFunc("GET /v1/route", routeHandler.GetRoute)
	mux.HandleFunc("GET /v1/status", statusHandler.GetStatus)
	mux.HandleFunc("GET /v1/stream", sseHandler.ServeSSE)
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)

	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)

	var root http.Handler = mux
	root = handler.GzipMiddleware(root)
	root = handler.CORSMiddleware(root)
	root = rateLimiter.Middleware(root)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     root,
		ReadTimeout: cfg.ReadTimeout,
		// No write timeout: the stream endpoints hold their
		// connections open indefinitely.
		WriteTimeout: 0,
	}

	go liveHub.Run(ctx)

	go func() {
		refresher.Bootstrap(ctx)
		refresher.RunVersionCheck(ctx, cfg.VersionCheckInterval)
	}()

	go feedPoller.Run(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
