package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"papertrail/internal/app"
	"papertrail/internal/blob"
	"papertrail/internal/config"
	"papertrail/internal/lock"
	"papertrail/internal/logger"
	"papertrail/internal/session"
	"papertrail/internal/store"
)

func main() {
	_ = godotenv.Load()
	logger.Init()
	defer func() { _ = logger.Log.Sync() }()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Sugar.Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Sugar.Fatalw("migrations failed", "error", err)
	}

	dataStore := store.NewPostgresStore(db)

	var blobs blob.Store
	if cfg.MinioEndpoint != "" {
		blobs, err = blob.NewMinioStore(ctx, blob.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Sugar.Fatalw("object store unavailable", "error", err)
		}
		logger.Sugar.Infow("content storage: minio", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	} else {
		blobs, err = blob.NewFileStore(cfg.ContentDir)
		if err != nil {
			logger.Sugar.Fatalw("content directory unavailable", "error", err)
		}
		logger.Sugar.Infow("content storage: filesystem", "dir", cfg.ContentDir)
	}

	locker := lock.Locker(lock.NewMemoryLocker())
	var svc *app.Service
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Sugar.Fatalw("invalid redis url", "error", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Sugar.Fatalw("redis unavailable", "error", err)
		}
		defer client.Close()

		locker = lock.NewRedisLocker(client, 30*time.Second)
		sessions := session.NewRedisStoreWithClient(client)
		svc = app.NewWithSessionStore(cfg, dataStore, sessions, blobs, locker)
		logger.Sugar.Infow("sessions and locks: redis")
	} else {
		svc = app.New(cfg, dataStore, blobs, locker)
		logger.Sugar.Infow("sessions and locks: in-process")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewServer(cfg, svc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Sugar.Infow("listening", "addr", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalw("server failed", "error", err)
		}
	case sig := <-stop:
		logger.Sugar.Infow("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar.Errorw("shutdown error", "error", err)
		}
	}
}
