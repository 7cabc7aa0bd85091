package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	api "content-review-queue/internal/api"
	"content-review-queue/internal/artifact"
	"content-review-queue/internal/config"
	"content-review-queue/internal/directory"
	"content-review-queue/internal/engine"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/queue"
	"content-review-queue/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	attention := queue.NewAttentionRegistry(redisClient)

	artifacts, err := buildArtifactSource(ctx, cfg)
	if err != nil {
		log.Fatalf("init artifact source: %v", err)
	}

	eng := engine.New(engine.Options{
		ProviderID: cfg.ProviderID,
		WorkerID:   "api",
		Store:      st,
		Adapter: provider.NewHTTPAdapter(provider.HTTPConfig{
			ProviderID: cfg.ProviderID,
			BaseURL:    cfg.ProviderBaseURL,
			Mode:       cfg.ProviderMode,
			APIKey:     cfg.ProviderAPIKey,
			Timeout:    cfg.ProviderTimeout,
		}),
		Artifacts:  artifacts,
		Users:      directory.NewUserClient(cfg.UserDirectoryURL, 0),
		Activities: directory.NewActivityClient(cfg.ActivityConfigURL, 0),
		Attention:  attention,
		Logger:     logger,
		MaxRetries: cfg.MaxRetries,
		ClaimTTL:   cfg.ClaimTTL,
	})

	server := api.New(cfg, eng, attention)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func buildArtifactSource(ctx context.Context, cfg config.Config) (artifact.Source, error) {
	if cfg.ArtifactBackend == "s3" {
		return artifact.NewS3Source(ctx, artifact.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			KeyPrefix: cfg.S3Prefix,
			MaxBytes:  cfg.ArtifactMaxBytes,
		})
	}
	return artifact.NewLocalSource(cfg.ArtifactDir), nil
}
