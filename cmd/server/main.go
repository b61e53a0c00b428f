// Package main runs the recording migrator HTTP server with progress WebSocket, the optional
// auto-processor and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/session-migrator/config"
	"github.com/aura-webinar/session-migrator/internal/activities"
	"github.com/aura-webinar/session-migrator/internal/app"
	"github.com/aura-webinar/session-migrator/internal/auth"
	"github.com/aura-webinar/session-migrator/internal/middleware"
	"github.com/aura-webinar/session-migrator/internal/realtime"
	"github.com/aura-webinar/session-migrator/pkg/response"
)

const version = "1.0.0"

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	go func() {
		if err := a.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("progress hub stopped", zap.Error(err))
		}
	}()

	authHandler := auth.NewHandler(cfg.Auth.APIKey, a.JWT, logger)
	activityHandler := activities.NewHandler(a.Pipeline, logger)
	webhookHandler := activities.NewWebhookHandler(a.Store, a.Dispatcher(), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(started).Seconds(),
		})
	})
	router.GET("/", func(c *gin.Context) {
		response.OK(c, gin.H{
			"name":        "session-migrator",
			"version":     version,
			"description": "Moves recorded live sessions from the recording provider to Bunny Stream",
			"endpoints": gin.H{
				"health":         "GET /health",
				"pendingUploads": "GET /api/activities/pending-uploads",
				"download":       "POST /api/activities/:activityId/download",
				"uploadActivity": "POST /api/upload/activity/:activityId",
				"processNext":    "POST /api/upload/process-next",
				"recordingReady": "POST /api/webhooks/recording-ready",
				"progress":       "GET /ws/progress",
			},
		})
	})
	if cfg.Server.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))
	}

	router.POST("/api/auth/token", authHandler.Token)

	api := router.Group("/api")
	api.Use(middleware.Auth(cfg.Auth.APIKey, a.JWT))
	{
		api.GET("/activities/pending-uploads", activityHandler.PendingUploads)
		api.POST("/activities/:activityId/download", activityHandler.Download)
		api.POST("/upload/activity/:activityId", activityHandler.Upload)
		api.POST("/upload/process-next", activityHandler.ProcessNext)
		api.POST("/webhooks/recording-ready", webhookHandler.RecordingReady)
	}

	// WebSocket (credential in query; browsers cannot set headers on upgrade)
	router.GET("/ws/progress", realtime.ServeWs(a.Hub, logger, middleware.TokenAuthorizer(cfg.Auth.APIKey, a.JWT)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	schedulerDone := make(chan struct{})
	if cfg.Scheduler.AutoProcess {
		go func() {
			defer close(schedulerDone)
			_ = a.Pipeline.Scheduler().Run(ctx, cfg.Scheduler.Interval)
		}()
	} else {
		close(schedulerDone)
		logger.Info("auto-processor disabled (AUTO_PROCESS=false)")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	<-schedulerDone
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
