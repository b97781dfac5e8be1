package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/fulfillment/internal/bootstrap"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/erp/fulfillment/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting fulfillment service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()

	// Database, gateways, dedup store and the reconciliation services
	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Migrate: true, Telemetry: true, Version: version})
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	reconciliation, err := app.NewScheduler()
	if err != nil {
		log.Fatal("Failed to create reconciliation scheduler", zap.Error(err))
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Tracing - Server spans, enriched with lead and tracker
	// 5. Metrics - Request counters and latency
	engine.Use(logger.RequestID(log))
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))

	tracingCfg := middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}
	engine.Use(middleware.Tracing(tracingCfg))
	engine.Use(middleware.SpanAttributes())
	engine.Use(middleware.SpanErrorMarker())
	if app.Meters != nil && app.Meters.IsEnabled() {
		engine.Use(middleware.HTTPMetrics(app.Meters.Meter("http.server")))
	}

	// Plain liveness probe outside the versioned API
	engine.GET("/health", healthHandler(app))

	systemHandler := handler.NewSystemHandler(version, map[string]handler.HealthCheck{
		"database": func(context.Context) error { return app.DB.Ping() },
	})

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	router.RegisterFulfillmentRoutes(r, router.Handlers{
		Webhook: handler.NewWebhookHandler(app.Pipeline),
		Admin:   handler.NewAdminHandler(app.Reconciler, app.Leads, app.Orders, reconciliation),
		System:  systemHandler,
	}, router.Options{
		AdminToken:         cfg.HTTP.AdminToken,
		WebhookMaxBodySize: cfg.HTTP.WebhookMaxBodySize,
	})
	r.Setup()

	if cfg.HTTP.AdminToken == "" {
		log.Warn("Admin API disabled: http.admin_token is empty")
	}

	// Background reconciliation
	if cfg.Scheduler.Enabled {
		if err := reconciliation.Start(ctx); err != nil {
			log.Fatal("Failed to start reconciliation scheduler", zap.Error(err))
		}
	} else {
		log.Info("Reconciliation scheduler disabled, passes run only on demand")
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconciliation.Stop(shutdownCtx); err != nil {
		log.Error("Reconciliation scheduler did not stop in time", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for the liveness probe
func healthHandler(app *bootstrap.Components) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := app.DB.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
