package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"parley/internal/core/ports"
	"parley/internal/core/services"
	httphandlers "parley/internal/handlers/http"
	backupinfra "parley/internal/infrastructure/backup"
	"parley/internal/infrastructure/distributed"
	"parley/internal/infrastructure/middleware"
	"parley/internal/infrastructure/monitoring"
	"parley/internal/infrastructure/reliability"
	repositories "parley/internal/infrastructure/repositories"
	"parley/internal/infrastructure/signal"
	"parley/pkg/backup"
	"parley/pkg/circuitbreaker"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/retry"
	"parley/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	restoreName := flag.String("restore", "", "restore conversation membership from the named backup before serving")
	restoreOverwrite := flag.Bool("restore-overwrite", false, "overwrite existing conversations during restore")
	flag.Parse()

	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/parley/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tracerProvider, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "parley",
			JaegerURL:   cfg.Tracing.JaegerURL,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				log.Errorw("error shutting down tracer provider", "error", err)
			}
		}()
		log.Infow("tracing enabled", "jaeger_url", cfg.Tracing.JaegerURL)
	}

	// Initialize repository factory (Redis with memory fallback)
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	store := repoFactory.CreateConversationStore()

	// Redis-backed directories sit behind a retry/breaker wrapper plus a
	// short-TTL member cache; the in-memory store needs neither.
	var directory ports.ConversationDirectory = store
	if repoFactory.RedisClient() != nil {
		wrapped := reliability.NewDirectoryWrapper(store, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log)
		directory = services.NewCachedDirectory(wrapped, 30*time.Second)
	}

	// Initialize monitoring
	collector := monitoring.NewCollector()

	// Core signaling components
	registry := signal.NewRegistry()

	var bus *distributed.PresenceBus
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewPresenceBus(client, uuid.New().String(), log)
	}

	dispatcher := signal.NewDispatcher(registry, collector, log)
	presence := signal.NewPresence(registry, collector, presencePublisher(bus), log)
	calls := signal.NewCallRouter(dispatcher, collector, log)

	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	statsService := services.NewStatsService(repoFactory.RedisClient(), 100, time.Second)
	defer statsService.Stop()

	wsOpts := signal.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageBytes:   cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}
	if !cfg.RateLimiting.Enabled {
		defaults := signal.DefaultOptions()
		wsOpts.MaxMessageBytes = defaults.MaxMessageBytes
		wsOpts.MessagesPerSecond = defaults.MessagesPerSecond
		wsOpts.MessageBurst = defaults.MessageBurst
	}

	wsServer := signal.NewWebSocketServer(registry, presence, dispatcher, calls, directory, authService, collector, statsService, wsOpts, log)

	// Background context for subscribers and schedulers
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Replicate presence transitions from sibling relay instances
	if bus != nil {
		go func() {
			err := bus.Subscribe(runCtx, func(t distributed.Transition) {
				switch t.Type {
				case distributed.TransitionOnline:
					presence.Relay(signal.EventUserOnline, t.UserID)
				case distributed.TransitionOffline:
					presence.Relay(signal.EventUserOffline, t.UserID)
				}
			})
			if err != nil && runCtx.Err() == nil {
				log.Errorw("presence bus subscription ended", "error", err)
			}
		}()
	}

	// Periodic conversation membership snapshots
	if cfg.Backup.Enabled || *restoreName != "" {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to create backup storage", "directory", cfg.Backup.Directory, "error", err)
		}
		backupService := backup.NewBackupService(storage, "1.0")

		if *restoreName != "" {
			restoreService := backupinfra.NewRestoreService(backupService, store, log)
			opts := backupinfra.DefaultRestoreOptions()
			opts.OverwriteExisting = *restoreOverwrite
			if err := restoreService.RestoreFromBackup(runCtx, *restoreName, opts); err != nil {
				log.Fatalw("restore failed", "backup_name", *restoreName, "error", err)
			}
		}

		if cfg.Backup.Enabled {
			scheduler := backupinfra.NewScheduler(backupService, store, repoFactory.RedisClient(), backupinfra.Config{
				Interval:      cfg.Backup.Interval,
				RetentionDays: cfg.Backup.RetentionDays,
			}, log)
			go scheduler.Start(runCtx)
			defer scheduler.Stop()
		}
	}

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRegistryCheck(registry, 30*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}

	// HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	messageHandler := httphandlers.NewMessageHandler(dispatcher, directory)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Auth routes (public)
	authHandler.SetupRoutes(router)

	// Message routes with authentication
	messageHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	// Event counters, cluster-wide when Redis is configured
	router.GET("/api/v1/stats", middleware.AuthMiddleware(authService), func(c *gin.Context) {
		counts, err := statsService.Cluster(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"events": statsService.Local(), "scope": "local"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": counts, "scope": "cluster"})
	})

	// WebSocket endpoint
	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": registry.ConnectionCount(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
				"error":     err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, healthChecker.GetReadinessStatus(ctx))
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Parley relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Parley relay...")

	runCancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// Drop every live connection so clients reconnect elsewhere
	wsServer.Shutdown(shutdownCtx)

	if err := statsService.Flush(shutdownCtx); err != nil {
		log.Warnw("failed to flush event counters", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Parley relay stopped")
}

// presencePublisher avoids handing a typed-nil *PresenceBus to the presence
// broadcaster when Redis is disabled.
func presencePublisher(bus *distributed.PresenceBus) signal.PresencePublisher {
	if bus == nil {
		return nil
	}
	return bus
}
