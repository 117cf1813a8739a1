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
	"github.com/ksred/pulse-api/internal/execution"
	"github.com/ksred/pulse-api/internal/orders"
	"github.com/ksred/pulse-api/internal/recovery"
	"github.com/ksred/pulse-api/internal/splitting"
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

// main initializes and runs the order splitting service: the acceptance
// API, the splitting and execution workers, and the timeout supervisor,
// with graceful shutdown support
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService)

	brokerClient := broker.NewMockBroker(cfg.BrokerScenario, cfg.BrokerLatency)

	// Start the background workers. All coordination between instances
	// happens through conditional writes against the database, so the
	// counts here can be scaled freely.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	for i := 0; i < cfg.SplittingWorkers; i++ {
		worker := splitting.NewWorker(db, splitting.NewEngine(nil), cfg.SplittingPollInterval)
		go worker.Start(workerCtx)
	}

	for i := 0; i < cfg.ExecutionWorkers; i++ {
		worker := execution.NewWorker(db, brokerClient, cfg.ExecutionPollInterval, cfg.ExecutionBatchSize, cfg.MaxRetries)
		go worker.Start(workerCtx)
	}

	supervisor := recovery.NewSupervisor(db, cfg.RecoveryPollInterval, cfg.SplitTimeout, cfg.ExecutionTimeout)
	go supervisor.Start(workerCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, orderHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
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

	// Stop workers before closing the listener so no claim is left half
	// finished longer than necessary
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
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderRoutes := v1.Group("/orders")
		orderRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			orderRoutes.POST("", orderHandlers.CreateOrderHandler())
			orderRoutes.GET("/:order_id", orderHandlers.GetOrderStatusHandler())
			orderRoutes.GET("/:order_id/slices", orderHandlers.GetOrderSlicesHandler())
		}
	}
}
