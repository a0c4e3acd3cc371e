package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/welldanyogia/event-bridge/backend/internal/api"
	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	"github.com/welldanyogia/event-bridge/backend/internal/bridge"
	"github.com/welldanyogia/event-bridge/backend/internal/config"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/headless"
	"github.com/welldanyogia/event-bridge/backend/internal/health"
	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
	"github.com/welldanyogia/event-bridge/backend/internal/middleware"
	"github.com/welldanyogia/event-bridge/backend/internal/notifier"
	"github.com/welldanyogia/event-bridge/backend/internal/scheduler"
	"github.com/welldanyogia/event-bridge/backend/internal/sse"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Host     string `help:"Listen host; overrides SERVER_HOST"`
	Port     string `short:"p" help:"Listen port; overrides SERVER_PORT"`
	Platform string `help:"Delivery model (android, ios); overrides BRIDGE_PLATFORM"`
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run(g *Globals) error {
	log := g.Logger

	cfg := config.Load()
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != "" {
		cfg.Server.Port = c.Port
	}
	if c.Platform != "" {
		cfg.Bridge.Platform = c.Platform
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	platform, err := bridge.ParsePlatform(cfg.Bridge.Platform)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Out-of-process transports
	var (
		transports  []notifier.Notifier
		redisClient *redis.Client
		natsNotif   *notifier.NATS
	)
	if cfg.Notifier.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Notifier.RedisAddr})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Notifier.RedisAddr, err)
		}
		transports = append(transports, notifier.NewRedis(redisClient, cfg.Notifier.RedisChannel, log))
	}
	if cfg.Notifier.NATSURL != "" {
		natsNotif, err = notifier.ConnectNATS(cfg.Notifier.NATSURL, cfg.Notifier.NATSSubject, log)
		if err != nil {
			return err
		}
		defer natsNotif.Close()
		transports = append(transports, natsNotif)
	}

	// Store, headless service and bridge
	store := events.NewPendingStore(cfg.Store.MaxPendingPerName, log)
	registry := headless.NewRegistry()
	// The pending check only counts names a listener has registered; b is
	// set before anything can wake the service.
	var b *bridge.Bridge
	headlessSvc := headless.NewService(registry,
		func() bool { return b.HasBackgroundPending() },
		headless.Config{
			Enabled:     cfg.Headless.Enabled,
			TaskKey:     headless.DefaultTaskKey,
			TaskTimeout: cfg.Headless.TaskTimeout,
		},
		log,
	)
	defer headlessSvc.Close()

	b = bridge.New(store, bridge.Options{
		Platform:      platform,
		Waker:         headlessSvc,
		Transports:    transports,
		SignalTimeout: cfg.Bridge.SignalTimeout,
		Logger:        log,
	})

	// Runtime stream
	sseCfg := sse.DefaultConfig()
	sseCfg.HeartbeatInterval = cfg.SSE.HeartbeatInterval
	sseCfg.ConnectionTimeout = cfg.SSE.ConnectionTimeout
	sseCfg.MaxConnectionsPerRuntime = cfg.SSE.MaxConnectionsPerRuntime

	connManager := sse.NewConnectionManager(sseCfg, log)
	b.AttachRuntime(connManager)
	registry.RegisterTask(headless.DefaultTaskKey, func() headless.Task {
		return connManager.BackgroundTask(b.HasBackgroundPending)
	})

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: cfg.Auth.Secret,
		Expiry: cfg.Auth.TokenExpiry,
		Issuer: cfg.Auth.Issuer,
	})
	authMW := middleware.NewAuthMiddleware(tokenService)

	var ingestLimiter *middleware.RateLimiter
	mws := api.Middlewares{
		Runtime:  authMW.Authenticate(auth.RuntimeKind),
		Producer: authMW.Authenticate(auth.ProducerKind),
	}
	if cfg.Server.IngestRateLimit > 0 {
		ingestLimiter = middleware.NewRateLimiter(cfg.Server.IngestRateLimit, time.Minute)
		mws.IngestLimit = ingestLimiter.Limit
	}

	healthCfg := health.Config{
		Stats:    b,
		Runtimes: connManager,
		Version:  version,
	}
	if redisClient != nil {
		healthCfg.RedisClient = redisClient
	}
	if natsNotif != nil {
		healthCfg.NATSConn = natsNotif.Conn()
	}
	healthHandler := health.NewHandler(healthCfg)

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		api.RegisterRoutes(r, api.NewHandler(b, log), mws)
		sse.RegisterRoutes(r, sse.NewHandler(sseCfg, connManager, tokenService, b, headlessSvc, log))
	})

	// Periodic jobs
	sched, err := scheduler.New(log)
	if err != nil {
		return err
	}
	if _, err := sched.Every("sse-cleanup", cfg.Scheduler.SSECleanupInterval, func() {
		if n := connManager.CleanupDeadConnections(); n > 0 {
			log.Info("removed dead runtime connections", slog.Int("count", n))
		}
	}); err != nil {
		return err
	}
	if _, err := sched.Every("store-stats", cfg.Scheduler.StatsRefreshInterval, metrics.NewStoreStatsCollector(b).Collect); err != nil {
		return err
	}
	if ingestLimiter != nil {
		if _, err := sched.Every("rate-limit-cleanup", cfg.Scheduler.RateLimitCleanup, func() { ingestLimiter.Cleanup() }); err != nil {
			return err
		}
	}
	sched.Start()

	// The runtime stream is long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("platform", string(platform)),
			slog.Bool("headless", cfg.Headless.Enabled),
			slog.Int("transports", len(transports)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b.DetachRuntime()
	connManager.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler stop", slog.String("error", err.Error()))
	}
	headlessSvc.Close()
	if err := headlessSvc.Wait(shutdownCtx); err != nil {
		log.Warn("headless task still running at shutdown", slog.String("error", err.Error()))
	}
	if err := b.Wait(shutdownCtx); err != nil {
		log.Warn("pending signal still in flight at shutdown", slog.String("error", err.Error()))
	}

	stats := b.Stats()
	log.Info("server exited",
		slog.Int("pending", stats.Total()),
		slog.Uint64("dropped", stats.Dropped),
	)
	return nil
}
