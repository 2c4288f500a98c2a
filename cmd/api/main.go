package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/config"
	"github.com/alumnet/backend/internal/handlers"
	"github.com/alumnet/backend/internal/middleware"
	"github.com/alumnet/backend/internal/models"
	"github.com/alumnet/backend/internal/services"
	"github.com/alumnet/backend/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	zapLog := logger.New(cfg.Env)
	defer zapLog.Sync()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	ledger := services.NewGormMediaLedger(db)
	imageHost := services.NewImageHostService(cfg)
	uploadService := services.NewUploadService(ledger, imageHost, cfg, zapLog)
	resolver := services.NewMediaResolver(ledger)
	cleanupService := services.NewCleanupService(ledger, imageHost, uploadService, redisClient, cfg, zapLog)

	// Initialize handlers
	mediaHandler := handlers.NewMediaHandler(uploadService, resolver)
	adminHandler := handlers.NewAdminHandler(cleanupService, uploadService)

	// Scheduled orphan sweep; run-to-completion, never inside a request path
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
		if _, err := cleanupService.FindOrphans(context.Background(), cfg.CleanupDryRun); err != nil {
			zapLog.Error("scheduled orphan sweep failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatalf("Invalid cleanup schedule %q: %v", cfg.CleanupSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.ReconcileOnStart {
		go func() {
			if _, err := cleanupService.FindOrphans(context.Background(), cfg.CleanupDryRun); err != nil {
				zapLog.Error("startup orphan sweep failed", zap.Error(err))
			}
		}()
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api/v1")
	{
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		media := api.Group("/media")
		media.Use(middleware.Auth(cfg))
		{
			media.GET("/resource/:resourceType/:resourceId", mediaHandler.GetResourceMedia)
			media.POST("/resolve", mediaHandler.Resolve)
			media.PUT("/resource/:resourceType/:resourceId/:tag/order", mediaHandler.Reorder)
			media.DELETE("/resource/:resourceType/:resourceId", mediaHandler.DeleteByResource)
			media.DELETE("/assets/:id", mediaHandler.Delete)
			media.PATCH("/assets/:id/metadata", mediaHandler.UpdateMetadata)

			uploadGroup := media.Group("/upload")
			uploadGroup.Use(middleware.UploadRateLimit(redisClient, cfg))
			{
				uploadGroup.POST("/:purpose/:resourceId", mediaHandler.Upload)
			}
		}

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(cfg))
		admin.Use(middleware.AdminOnly())
		{
			admin.GET("/media/stats", adminHandler.UsageStats)
			admin.GET("/media/external", adminHandler.ListExternal)
			admin.POST("/media/orphans", adminHandler.SweepOrphans)
			admin.POST("/media/dangling", adminHandler.SweepDangling)
			admin.POST("/media/purge", adminHandler.Purge)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
