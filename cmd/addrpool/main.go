package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/config"
	"github.com/coinharbor/addrpool/internal/database"
	"github.com/coinharbor/addrpool/internal/pool"
	"github.com/coinharbor/addrpool/internal/task"
	"github.com/coinharbor/addrpool/internal/verify"
	"github.com/coinharbor/addrpool/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	if err := db.AutoMigrate(&task.DepositTask{}); err != nil {
		zapLogger.Fatal("Failed to migrate task schema", zap.Error(err))
	}

	var redisClient redis.Cmdable
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		redisClient = client
	}

	verifier := verify.NewEsploraClient(cfg.Verify, zapLogger)

	poolModule, err := pool.NewModule(pool.ModuleOptions{
		Config:   cfg,
		Logger:   zapLogger,
		DB:       db,
		Redis:    redisClient,
		Verifier: verifier,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create pool module", zap.Error(err))
	}

	taskService := task.NewService(db, poolModule.Binder(), zapLogger)
	taskHandler := task.NewHandler(taskService)

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	poolModule.RegisterRoutes(api)
	taskHandler.RegisterRoutes(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := poolModule.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start pool module", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := poolModule.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Failed to stop pool module", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
