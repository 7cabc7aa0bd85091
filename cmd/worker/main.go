package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"content-review-queue/internal/artifact"
	"content-review-queue/internal/config"
	"content-review-queue/internal/directory"
	"content-review-queue/internal/engine"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/queue"
	"content-review-queue/internal/ratelimit"
	"content-review-queue/internal/store"
	"content-review-queue/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	attention := queue.NewAttentionRegistry(redisClient)

	artifacts, err := buildArtifactSource(ctx, cfg)
	if err != nil {
		log.Fatalf("init artifact source: %v", err)
	}

	// Worker identity shows up in claim rows; crashed workers are healed by
	// claim expiry, so uniqueness only matters for debugging.
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	terminal := append(append([]string{}, provider.DefaultTerminalMessages...), cfg.TerminalMessages...)

	eng := engine.New(engine.Options{
		ProviderID: cfg.ProviderID,
		WorkerID:   workerID,
		Store:      st,
		Adapter: provider.NewHTTPAdapter(provider.HTTPConfig{
			ProviderID: cfg.ProviderID,
			BaseURL:    cfg.ProviderBaseURL,
			Mode:       cfg.ProviderMode,
			APIKey:     cfg.ProviderAPIKey,
			Timeout:    cfg.ProviderTimeout,
		}),
		Artifacts:     artifacts,
		Users:         directory.NewUserClient(cfg.UserDirectoryURL, 0),
		Activities:    directory.NewActivityClient(cfg.ActivityConfigURL, 0),
		Classifier:    provider.NewClassifier(terminal),
		Limiter:       limiter,
		Attention:     attention,
		Logger:        logger,
		MaxRetries:    cfg.MaxRetries,
		ClaimTTL:      cfg.ClaimTTL,
		FilenameLimit: cfg.FilenameLimit,
		BatchLimit:    cfg.SubmitBatchLimit,
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started submit_interval=%s report_interval=%s", workerID, cfg.SubmitInterval, cfg.ReportInterval)
	run(ctx, eng, cfg, logger)
}

// run drives the two passes on independent tickers until shutdown. Each
// tick runs one full pass; a slow pass simply delays the next tick.
func run(ctx context.Context, eng *engine.Engine, cfg config.Config, logger *slog.Logger) {
	submitTicker := time.NewTicker(cfg.SubmitInterval)
	defer submitTicker.Stop()
	reportTicker := time.NewTicker(cfg.ReportInterval)
	defer reportTicker.Stop()

	// Drain whatever queued up while the worker was down.
	if err := eng.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
		logger.Error("submission pass failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-submitTicker.C:
			if err := eng.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("submission pass failed", "err", err)
			}
		case <-reportTicker.C:
			if err := eng.CheckReports(ctx); err != nil && ctx.Err() == nil {
				logger.Error("report pass failed", "err", err)
			}
		}
	}
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
