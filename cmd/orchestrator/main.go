package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weavecore/orchestrator/internal/api"
	"github.com/weavecore/orchestrator/internal/config"
	"github.com/weavecore/orchestrator/internal/engine"
	"github.com/weavecore/orchestrator/internal/executor"
	"github.com/weavecore/orchestrator/internal/handlers"
	"github.com/weavecore/orchestrator/internal/logger"
	"github.com/weavecore/orchestrator/internal/metrics"
	"github.com/weavecore/orchestrator/internal/parserclient"
	"github.com/weavecore/orchestrator/internal/registry"
	"github.com/weavecore/orchestrator/internal/review"
	"github.com/weavecore/orchestrator/internal/snapshot"
	"github.com/weavecore/orchestrator/internal/telemetry"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting workflow orchestrator")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	ctx := context.Background()

	tracer, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", "error", err)
	}
	defer tracer.Shutdown(ctx)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	reg := registry.NewRegistry(redisClient)
	reg.Start()
	defer reg.Stop()

	var llmSelector registry.LLMSelector
	if cfg.Matcher.AssistURL != "" {
		llmSelector = registry.NewHTTPSelector(cfg.Matcher.AssistURL, 5*time.Second)
	}
	matcher := registry.NewMatcher(reg, cfg.Matcher.CacheTTL, llmSelector)

	execFacade := executor.NewFacade(cfg.Executor.Timeout, cfg.Executor.RetryTimes, cfg.Executor.RetryDelay)
	ledger := review.NewLedger()
	reviewFacade := review.NewFacade(cfg.Review.QualityThreshold, ledger)
	snapshots := snapshot.NewManager(cfg.Snapshot.MaxPerTrace)
	parser := parserclient.NewClient(cfg.Parser.URL, 30*time.Second)

	m := metrics.NewMetrics()

	scheduler := engine.New(parser, matcher, execFacade, reviewFacade, snapshots, tracer, log, cfg, m)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		duration := time.Since(start)
		m.RecordHTTPRequest(c.Request.Method, path, fmt.Sprintf("%d", c.Writer.Status()), duration.Seconds())
		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", duration.Milliseconds(),
		)
	})

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "workflow orchestrator",
			"version": "0.1.0",
			"status":  "running",
		})
	})

	registry.NewHandler(reg).RegisterRoutes(router)
	api.NewHandler(scheduler, ledger, snapshots).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server stopped")
}
