package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcmid/clipchan/config"
	"github.com/pcmid/clipchan/internal/auth"
	"github.com/pcmid/clipchan/internal/broadcast"
	"github.com/pcmid/clipchan/internal/ffmpeg"
	"github.com/pcmid/clipchan/internal/httpapi"
	"github.com/pcmid/clipchan/internal/ingest"
	"github.com/pcmid/clipchan/internal/livepush"
	"github.com/pcmid/clipchan/internal/repo"
	"github.com/pcmid/clipchan/internal/service"
	"github.com/pcmid/clipchan/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	db, err := repo.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	clipRepo := repo.NewClipRepo(db)
	playlistRepo := repo.NewPlaylistRepo(db)
	userRepo := repo.NewUserRepo(db)

	if recovered, err := clipRepo.RecoverStuckProcessing(ctx); err != nil {
		slog.Error("failed to recover stuck processing clips", "error", err)
	} else if recovered > 0 {
		slog.Warn("recovered stuck processing clips on startup", "count", recovered)
	}

	blob, err := newBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		slog.Error("failed to create tmp dir", "error", err, "path", cfg.TmpDir)
		os.Exit(1)
	}

	transcoder := ffmpeg.NewTranscoder(cfg.FFmpegBinary)
	pipeline := ingest.New(clipRepo, blob, transcoder, cfg.IngestConcurrency, cfg.IngestQueueDepth)

	go func() {
		if err := pipeline.Run(ctx); err != nil {
			slog.Error("ingestion pipeline stopped with error", "error", err)
		}
	}()

	scheduler := broadcast.NewScheduler(playlistRepo, blob)

	authSvc := auth.New(auth.Config{
		Username:           cfg.OperatorUsername,
		Password:           cfg.OperatorPassword,
		JWTSecret:          cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		MaxLoginAttempts:   cfg.MaxLoginAttempts,
		LoginWindowSeconds: cfg.LoginWindowSeconds,
	})

	userSvc := service.NewUserService(userRepo)
	clipSvc := service.NewClipService(clipRepo, blob, pipeline, cfg.TmpDir)
	playlistSvc := service.NewPlaylistService(playlistRepo)
	liveSvc := service.NewLiveService(userSvc, scheduler, livepush.DefaultConfig())

	router := httpapi.NewRouter(httpapi.Services{
		Users:            userSvc,
		Clips:            clipSvc,
		Playlists:        playlistSvc,
		Live:             liveSvc,
		Auth:             authSvc,
		OperatorUsername: cfg.OperatorUsername,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	slog.Info("starting clipchan", "port", cfg.Port, "storage_backend", cfg.StorageBackend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.Blob, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return storage.NewLocal(storage.LocalConfig{Path: cfg.LocalStoragePath})
	}
}
