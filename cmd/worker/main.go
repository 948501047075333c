// Command worker consumes upload processing tasks from Kafka and runs each
// upload through the ingestion pipeline: download, parse, chunk, embed and
// persist. It also runs the periodic stale-run reaper and failed-upload
// cleanup.
//
// Build with -tags ocr to enable image OCR through tesseract.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/chunker"
	"github.com/devstudio-tyler/company-on/internal/embedder"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/maintenance"
	"github.com/devstudio-tyler/company-on/internal/parser"
	"github.com/devstudio-tyler/company-on/internal/retrieval/cache"
	"github.com/devstudio-tyler/company-on/internal/store"
	"github.com/devstudio-tyler/company-on/pkg/config"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/postgres"
	pkgredis "github.com/devstudio-tyler/company-on/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion worker", "workers", cfg.Kafka.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx, cfg.Embedding.Dimension); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	st := store.New(db, cfg.Ingestion.InsertBatchSize)

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open blob store", "error", err, "backend", cfg.Storage.Backend)
		os.Exit(1)
	}

	counter, err := chunker.NewCounter(cfg.Chunker.Tokenizer)
	if err != nil {
		slog.Error("failed to build token counter", "error", err)
		os.Exit(1)
	}
	ocr, err := parser.NewOCREngine()
	if err != nil {
		slog.Warn("ocr disabled, images will be rejected", "error", err)
	}
	docParser := parser.New(parser.OptionsFromConfig(cfg.Parser), ocr, counter)
	chunkers := chunker.Set{
		Text: chunker.FromConfig(cfg.Chunker, counter),
		Rows: chunker.NewPassthroughRowChunker(counter),
	}

	m := metrics.New()

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, embedding cache and progress pub/sub disabled", "error", err)
	} else {
		defer redisClient.Close()
	}

	emb, _ := embedder.FromConfig(cfg.Embedding, redisClient, m)
	slog.Info("embedder ready",
		"provider", cfg.Embedding.Provider,
		"model", cfg.Embedding.Model,
		"dimension", cfg.Embedding.Dimension,
	)

	var notifyWG sync.WaitGroup
	progressProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ProgressEvents)
	defer progressProducer.Close()
	notifiers := ingestion.Fanout{ingestion.LogNotifier{}}
	kafkaProgress := ingestion.NewAsyncNotifier("kafka", ingestion.KafkaSink{Producer: progressProducer}, cfg.Ingestion.ProgressBufferSz, m)
	notifyWG.Go(func() { kafkaProgress.Run(ctx) })
	notifiers = append(notifiers, kafkaProgress)

	opts := []ingestion.PipelineOption{ingestion.WithPipelineMetrics(m)}
	if redisClient != nil {
		redisProgress := ingestion.NewAsyncNotifier("redis", ingestion.RedisSink{Client: redisClient, Prefix: cfg.Redis.ProgressPrefix}, cfg.Ingestion.ProgressBufferSz, m)
		notifyWG.Go(func() { redisProgress.Run(ctx) })
		notifiers = append(notifiers, redisProgress)

		searchCache := cache.New(redisClient, cfg.Redis.CacheTTL, m)
		opts = append(opts, ingestion.WithCompletionHook(func(ctx context.Context, documentID int64) {
			if err := searchCache.Invalidate(ctx); err != nil {
				slog.Warn("search cache invalidation failed", "document_id", documentID, "error", err)
			}
		}))
	}
	opts = append(opts, ingestion.WithNotifier(notifiers))

	pipeline := ingestion.NewPipeline(st, blobs, docParser, chunkers, emb,
		ingestion.PipelineConfigFrom(cfg.Ingestion), opts...)

	maintainer := maintenance.New(st, blobs, emb)
	go maintainer.RunPeriodic(ctx, maintenance.Schedule{
		StaleAfter:      cfg.Ingestion.StaleAfter,
		FailedRetention: cfg.Ingestion.FailedRetention,
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	workers := max(cfg.Kafka.Workers, 1)
	consumers := make([]*kafka.Consumer, workers)
	for i := range consumers {
		consumers[i] = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IngestTasks, ingestion.TaskHandler(pipeline))
	}

	slog.Info("worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.IngestTasks,
		"group", cfg.Kafka.ConsumerGroup,
		"workers", workers,
	)
	if err := kafka.StartAll(ctx, consumers...); err != nil {
		slog.Error("consumer error", "error", err)
	}

	notifyWG.Wait()
	slog.Info("ingestion worker stopped")
}
