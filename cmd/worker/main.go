package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"certforge/internal/campaign"
	"certforge/internal/config"
	"certforge/internal/database"
	"certforge/internal/metrics"
	"certforge/internal/storage"
	"certforge/internal/tasks"
	"certforge/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	asynqClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	notifier := worker.NewRedisNotifier(redisClient)
	rasterizer := worker.NewRodRasterizer(cfg.Renderer.PageLoadTimeout())

	pdfHandler := worker.NewPDFTaskHandler(db, storageClient, notifier, logger, rasterizer, cfg.Renderer.Timeout())
	importHandler := worker.NewImportTaskHandler(db, storageClient, asynqClient, notifier, logger,
		cfg.Worker.ImportParallelism, cfg.Renderer.MaxRetry)
	completionHandler := worker.NewCompletionTaskHandler(campaign.NewService(db), logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeCertificateGenerate, pdfHandler)
	mux.Handle(tasks.TypeCampaignImport, importHandler)
	mux.Handle(tasks.TypeCampaignCompletion, completionHandler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
