package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/api"
	"github.com/veridian-id/go-authn-backend/internal/backend"
	"github.com/veridian-id/go-authn-backend/internal/service"
	"github.com/veridian-id/go-authn-backend/pkg/config"
	"github.com/veridian-id/go-authn-backend/pkg/logging"
	"github.com/veridian-id/go-authn-backend/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Authentication Backend Server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	logger.Info("Storage backend initialized", zap.String("type", cfg.Storage.Type))

	// Ping storage to verify connection
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}

	// Initialize services
	services, err := service.NewServices(store, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	services.Start()
	defer services.Stop()

	// Initialize HTTP server
	router := setupRouter(cfg, services, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("address", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func setupRouter(cfg *config.Config, services *service.Services, logger *zap.Logger) *gin.Engine {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // TODO: Make configurable
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Initialize API handlers
	handlers := api.NewHandlers(services, cfg, logger)

	// Health/status endpoints
	router.GET("/status", handlers.Status)
	router.GET("/health", handlers.Status)

	// Public routes (unauthenticated): the ceremonies themselves are the
	// authentication mechanism
	public := router.Group("/")
	{
		webauthn := public.Group("/webauthn")
		{
			webauthn.POST("/register/begin", handlers.StartRegistration)
			webauthn.POST("/register/finish", handlers.FinishRegistration)
			webauthn.POST("/login/begin", handlers.StartAuthentication)
			webauthn.POST("/login/finish", handlers.FinishAuthentication)
		}

		public.POST("/recovery/redeem", handlers.RedeemRecoveryCode)
	}

	// Protected routes (session token required)
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(cfg, logger))
	{
		protected.POST("/recovery/generate", handlers.GenerateRecoveryCodes)
		protected.GET("/users/:id/credentials", handlers.ListCredentials)
		protected.DELETE("/users/:id/credentials/:credential_id", handlers.RevokeCredential)
	}

	return router
}
