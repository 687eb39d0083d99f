// Package main runs a standalone transcode worker: it drains the shared
// Redis queue and publishes video-ready events back over the Redis bridge,
// so it can live on a different host than the signaling server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mirrorbooth/backend/config"
	"github.com/mirrorbooth/backend/internal/cleanup"
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

	ffmpeg := transcode.NewFFmpeg(cfg.Transcode.OverlayPath, time.Duration(cfg.Transcode.TimeoutSec)*time.Second, logger)
	pipeline := transcode.NewPipeline(transcode.Config{
		Gateway:       store,
		Transformer:   ffmpeg,
		Poster:        transcode.NewPoster(ffmpeg, cfg.Transcode.PosterWidth, logger),
		Notifier:      signaling.NewBridge(rdb.Client, logger),
		Status:        transcode.NewRedisStatus(rdb.Client, logger),
		TempDir:       cfg.Transcode.TempDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})
	pool := worker.NewPool(worker.Config{
		Source:  queue.NewQueue(rdb.Client, logger),
		Runner:  pipeline,
		Guard:   worker.NewRedisGuard(rdb.Client, logger),
		Workers: cfg.Transcode.Workers,
		Logger:  logger,
	})
	pool.Start()
	logger.Info("transcode worker started", zap.Int("workers", cfg.Transcode.Workers))

	tempDir := cfg.Transcode.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	sweeper := cleanup.NewSweeper(tempDir, time.Duration(cfg.Cleanup.MaxAgeMin)*time.Minute, logger)
	if err := sweeper.Start(cfg.Cleanup.Schedule); err != nil {
		logger.Fatal("cleanup schedule", zap.Error(err))
	}
	defer sweeper.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
