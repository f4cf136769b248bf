package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duocall/internal/core/services"
	httphandlers "duocall/internal/handlers/http"
	"duocall/internal/infrastructure/middleware"
	"duocall/internal/infrastructure/monitoring"
	"duocall/internal/infrastructure/repositories"
	signalsrv "duocall/internal/infrastructure/signal"
	"duocall/pkg/config"
	"duocall/pkg/logger"
	"duocall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Registry repository (memory or redis)
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	registryRepo := repoFactory.CreateRegistryRepository()
	registry := services.NewRegistryService(registryRepo, log)

	// Monitoring
	collector := monitoring.NewPrometheusCollector()
	health := monitoring.NewHealthChecker()
	health.AddCheck("registry", func(ctx context.Context) (bool, error) {
		registry.RoomCount(ctx)
		return true, nil
	}, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddCheck("redis", func(ctx context.Context) (bool, error) {
			if err := client.Ping(ctx).Err(); err != nil {
				return false, err
			}
			return true, nil
		}, 2*time.Second)
	}

	// Signaling relay
	wsServer := signalsrv.NewWebSocketServer(registry, collector, log,
		signalsrv.WithTimings(cfg.Signal.PingInterval, cfg.Signal.PongTimeout, cfg.Signal.WriteTimeout),
		signalsrv.WithMaxMessageSize(cfg.Signal.MaxMessageSize),
		signalsrv.WithMessageLimiter(func() *rate.Limiter {
			return middleware.NewWebSocketMessageLimiter(cfg)
		}),
	)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	roomHandler := httphandlers.NewRoomHandler(registry, health)
	roomHandler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting duocall signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("duocall signaling server stopped")
}
