/**
 * OCR Layer Worker - Main Entry Point
 *
 * Go worker that turns scanned PDFs into searchable PDFs by adding an
 * invisible text layer recognized with Tesseract.
 *
 * Architecture:
 * - Redis list (TypeScript RedisQueue compatible) or asynq job consumer
 * - Batch orchestrator: one OCR engine per job, documents strictly in order
 * - Page pipeline: render (pdftoppm) -> recognize -> normalize -> copy -> composite
 * - PostgreSQL persistence for jobs and searchable PDFs (optional)
 * - VoyageAI embeddings + Qdrant page index (optional)
 * - FileProcess API artifact upload (optional)
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adverant/nexus/ocrlayer-worker/internal/clients"
	"github.com/adverant/nexus/ocrlayer-worker/internal/config"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
	"github.com/adverant/nexus/ocrlayer-worker/internal/processor"
	"github.com/adverant/nexus/ocrlayer-worker/internal/queue"
	"github.com/adverant/nexus/ocrlayer-worker/internal/storage"
	"github.com/adverant/nexus/ocrlayer-worker/internal/worker"
	"github.com/joho/godotenv"
)

type consumer interface {
	Stop() error
}

type asynqConsumer struct {
	*queue.Consumer
}

func (c asynqConsumer) Stop() error {
	return c.Consumer.Stop(context.Background())
}

func main() {
	logger := logging.NewLogger("main")
	defer logging.Sync()

	if err := godotenv.Load(".env.nexus"); err != nil {
		logger.Warn(".env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal(logger, "Failed to load configuration", err)
	}
	logging.SetLevel(cfg.LogLevel)

	logger.Info("OCR layer worker starting",
		"queue", cfg.QueueName,
		"backend", cfg.QueueBackend,
		"workers", cfg.WorkerConcurrency,
		"languages", cfg.TesseractLanguages,
		"renderScale", cfg.RenderScale)

	// Document capabilities
	renderer, err := pdfdoc.NewPopplerRenderer(cfg.PdftoppmPath, cfg.TempDir)
	if err != nil {
		fatal(logger, "Failed to initialize page renderer", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		fatal(logger, "Failed to create temp directory", err)
	}

	engines := tesseract.NewFactory(tesseract.Config{
		Languages: cfg.TesseractLanguages,
		PSM:       cfg.TesseractPSM,
		DPI:       cfg.OCRDPI(),
	}, logging.NewLogger("Tesseract"))

	orchestrator := processor.NewOrchestrator(engines, pdfdoc.NewLibrary(), renderer, processor.Options{
		RenderScale:  cfg.RenderScale,
		MaxPages:     cfg.MaxPages,
		VerifyOutput: cfg.VerifyOutput,
	}, logging.NewLogger("Orchestrator"))

	// Redis connection shared by the list consumer and event publishing
	ctx := context.Background()
	redisClient, err := queue.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		fatal(logger, "Failed to connect to Redis", err)
	}
	defer redisClient.Close()
	events := queue.NewEventPublisher(redisClient, cfg.QueueName)

	handlerCfg := worker.Config{
		Batch:        orchestrator,
		Events:       events,
		Downloader:   worker.NewDownloader(cfg.MaxFileSize, logging.NewLogger("Downloader")),
		OutputDir:    cfg.OutputDir,
		BatchTimeout: cfg.BatchTimeout(),
		Logger:       logging.NewLogger("JobHandler"),
	}

	// Optional storage (PostgreSQL + Qdrant)
	var storageManager *storage.StorageManager
	if cfg.DatabaseURL != "" {
		storageManager, err = storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			fatal(logger, "Failed to initialize storage manager", err)
		}
		defer storageManager.Close()
		handlerCfg.Store = storageManager

		if stats, err := storageManager.GetStats(ctx); err == nil {
			logger.Info("Storage manager initialized", "stats", stats)
		}

		if storageManager.HasPageIndex() && cfg.VoyageAPIKey != "" {
			embedder, err := clients.NewEmbeddingClient(cfg.VoyageAPIKey, "")
			if err != nil {
				fatal(logger, "Failed to initialize embedding client", err)
			}
			handlerCfg.Index = storageManager
			handlerCfg.Embedder = embedder
			logger.Info("Page index enabled", "collection", cfg.QdrantCollection)
		}
	} else {
		logger.Warn("DATABASE_URL not set, results are kept in Redis only")
	}

	if cfg.FileProcessAPIURL != "" {
		artifacts := clients.NewArtifactClient(cfg.FileProcessAPIURL)
		if err := artifacts.HealthCheck(ctx); err != nil {
			logger.Warn("Artifact service not reachable, uploads may fail", "error", err)
		}
		handlerCfg.Artifacts = artifacts
	}

	handler, err := worker.NewHandler(handlerCfg)
	if err != nil {
		fatal(logger, "Failed to initialize job handler", err)
	}

	var queueConsumer consumer
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Handler:     handler,
			Events:      events,
		})
		if err != nil {
			fatal(logger, "Failed to initialize asynq consumer", err)
		}
		if err := c.Start(ctx); err != nil {
			fatal(logger, "Failed to start asynq consumer", err)
		}
		queueConsumer = asynqConsumer{c}

	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			Client:      redisClient,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			MaxRetries:  cfg.MaxRetries,
			Handler:     handler,
		})
		if err != nil {
			fatal(logger, "Failed to initialize queue consumer", err)
		}
		if err := c.Start(); err != nil {
			fatal(logger, "Failed to start queue consumer", err)
		}
		queueConsumer = c
	}

	logger.Info("OCR layer worker is READY",
		"queue", cfg.QueueName,
		"events", events.Channel(),
		"timeout", cfg.BatchTimeout(),
		"maxPages", cfg.MaxPages)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	if lc, ok := queueConsumer.(*queue.RedisConsumer); ok {
		if stats, err := lc.GetStats(); err == nil {
			logger.Info("Queue statistics", "stats", stats)
		}
	}

	logger.Info("Shutdown complete")
}

func fatal(logger *logging.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	logging.Sync()
	os.Exit(1)
}
