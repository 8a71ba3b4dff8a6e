package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/pulse-api/internal/auth"
	"github.com/ksred/pulse-api/internal/broker"
	"github.com/ksred/pulse-api/internal/config"
	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/executor"
	"github.com/ksred/pulse-api/internal/monitor"
	"github.com/ksred/pulse-api/internal/orders"
	"github.com/ksred/pulse-api/internal/splitter"
	"github.com/ksred/pulse-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the split-order API server together with the
// splitter, slice executor and timeout monitor workers, with graceful
// shutdown support.
func main() {
	// Load configuration (defaults + optional file + PULSE_* env overrides)
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService)

	// Create and start the background workers. They coordinate purely
	// through row-state transitions, so any number of instances may run.
	brokerAdapter := broker.NewSimulatedBroker()

	splitWorker := splitter.NewSplitter(db, cfg.Workers.SplitterInterval)
	executeWorker := executor.NewExecutor(db, brokerAdapter, cfg.Workers.ExecutorInterval, cfg.Workers.ExecutorBatchSize)
	timeoutWorker := monitor.NewMonitor(db, cfg.Workers.MonitorInterval, cfg.Workers.SplitTimeout, cfg.Workers.ExecutionTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go splitWorker.Start(workerCtx)
	go executeWorker.Start(workerCtx)
	go timeoutWorker.Start(workerCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, orderHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the workers first so no new broker calls start mid-shutdown
	workerCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			ordersGroup.POST("", orderHandlers.CreateOrderHandler())
			ordersGroup.GET("/:order_id", orderHandlers.GetOrderStatusHandler())
		}
	}
}
