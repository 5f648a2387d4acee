package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"rnvlive/internal/config"
	"rnvlive/internal/handler"
	"rnvlive/internal/hub"
	"rnvlive/internal/metrics"
	"rnvlive/internal/middleware"
	"rnvlive/internal/publisher"
	"rnvlive/internal/store"
	"rnvlive/internal/tracker"
	"rnvlive/pkg/rnvapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting rnvlive server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"redis_enabled", cfg.RedisEnabled,
		"nats_enabled", cfg.NATSEnabled,
	)

	var trackingStore store.Store
	if cfg.RedisEnabled {
		redisStore, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StoreTTL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		trackingStore = redisStore
	} else {
		trackingStore = store.NewMemoryStore()
	}

	catalog := store.NewTripCatalog(cfg.TripStaleAfter)
	wsHub := hub.NewHub(logger)
	collector := metrics.NewCollector()

	sinks := []tracker.Sink{wsHub}
	if cfg.NATSEnabled {
		natsPub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		sinks = append(sinks, natsPub)
	}

	coordinator := tracker.New(trackingStore, sinks, tracker.Config{
		TickInterval: cfg.TickInterval,
		Metrics:      collector,
	}, logger)

	var tokens rnvapi.TokenSource = rnvapi.StaticTokenSource("")
	if cfg.HasCredentials() {
		tokens = &rnvapi.ClientCredentials{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Resource:     cfg.Resource,
		}
	} else {
		logger.Warn("no RNV credentials configured, trip planner requests will be unauthenticated")
	}

	mws := []rnvapi.Middleware{
		rnvapi.MinIntervalMiddleware(cfg.RequestInterval),
		rnvapi.ValidationMiddleware(cfg.MaxResponseSize),
	}
	if cfg.SigningEnabled {
		mws = append([]rnvapi.Middleware{rnvapi.SigningMiddleware(cfg.SigningKey)}, mws...)
	}
	apiClient := rnvapi.New(cfg.APIBaseURL, rnvapi.Chain(http.DefaultClient, mws...), tokens, logger)

	httpHandler := handler.NewHTTPHandler(coordinator, apiClient, tokens, catalog, logger)
	wsHandler := handler.NewWSHandler(wsHub, coordinator, logger)
	healthHandler := handler.NewHealthHandler(coordinator)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/stations", httpHandler.SearchStations)
	mux.HandleFunc("POST /v1/connections/search", httpHandler.SearchConnections)

	mux.HandleFunc("POST /v1/tracking/{tripId}", httpHandler.StartTracking)
	mux.HandleFunc("DELETE /v1/tracking/{tripId}", httpHandler.StopTracking)
	mux.HandleFunc("GET /v1/tracking/{tripId}", httpHandler.GetTracking)
	mux.HandleFunc("GET /v1/tracking", httpHandler.ListTracking)
	mux.HandleFunc("DELETE /v1/tracking", httpHandler.StopAllTracking)

	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	// the websocket endpoint hijacks the connection, keep it outside the
	// gzip wrapper
	root := http.NewServeMux()
	root.HandleFunc("/v1/ws", wsHandler.ServeWS)
	root.Handle("/", handler.GzipMiddleware(handler.CORSMiddleware(rateLimiter.Middleware(mux))))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wsHub.Run(ctx)

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

	if err := coordinator.StopAll(shutdownCtx); err != nil {
		logger.Error("stopping tracking sessions failed", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
