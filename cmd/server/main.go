// Package main runs the mirror booth backend: HTTP API, WebSocket signaling
// and the in-process transcode workers, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mirrorbooth/backend/config"
	"github.com/mirrorbooth/backend/internal/api"
	"github.com/mirrorbooth/backend/internal/cleanup"
	"github.com/mirrorbooth/backend/internal/middleware"
	"github.com/mirrorbooth/backend/internal/session"
	"github.com/mirrorbooth/backend/internal/signaling"
	"github.com/mirrorbooth/backend/internal/transcode"
	"github.com/mirrorbooth/backend/internal/worker"
	"github.com/mirrorbooth/backend/pkg/queue"
	"github.com/mirrorbooth/backend/pkg/redis"
	"github.com/mirrorbooth/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		UseSSL:          cfg.Storage.UseSSL,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	}, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Signaling: one recorder, one moderator, relayed through the hub. The
	// bridge carries video-ready events over Redis so a standalone worker
	// process can reach the moderator too.
	registry := session.NewRegistry()
	hub := signaling.NewHub(registry, jobQueue, logger)
	bridge := signaling.NewBridge(rdb.Client, logger)
	stopForward, err := bridge.ForwardTo(hub)
	if err != nil {
		logger.Fatal("event bridge", zap.Error(err))
	}
	defer stopForward()

	// Transcode pipeline and its worker pool.
	ffmpeg := transcode.NewFFmpeg(cfg.Transcode.OverlayPath, time.Duration(cfg.Transcode.TimeoutSec)*time.Second, logger)
	status := transcode.NewRedisStatus(rdb.Client, logger)
	pipeline := transcode.NewPipeline(transcode.Config{
		Gateway:       store,
		Transformer:   ffmpeg,
		Poster:        transcode.NewPoster(ffmpeg, cfg.Transcode.PosterWidth, logger),
		Notifier:      bridge,
		Status:        status,
		TempDir:       cfg.Transcode.TempDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})
	pool := worker.NewPool(worker.Config{
		Source:  jobQueue,
		Runner:  pipeline,
		Guard:   worker.NewRedisGuard(rdb.Client, logger),
		Workers: cfg.Transcode.Workers,
		Logger:  logger,
	})
	pool.Start()

	tempDir := cfg.Transcode.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	sweeper := cleanup.NewSweeper(tempDir, time.Duration(cfg.Cleanup.MaxAgeMin)*time.Minute, logger)
	if err := sweeper.Start(cfg.Cleanup.Schedule); err != nil {
		logger.Fatal("cleanup schedule", zap.Error(err))
	}
	defer sweeper.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	api.NewHandler(store, status, logger).Register(router)
	router.GET("/ws", signaling.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
