// Command ragctl is the operator CLI for maintenance jobs, upload
// inspection and ad-hoc search.
//
// Usage:
//
//	go run ./cmd/ragctl [--config configs/development.yaml] <command>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/chunker"
	"github.com/devstudio-tyler/company-on/internal/embedder"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/maintenance"
	"github.com/devstudio-tyler/company-on/internal/parser"
	"github.com/devstudio-tyler/company-on/internal/ragctl"
	"github.com/devstudio-tyler/company-on/internal/retrieval"
	"github.com/devstudio-tyler/company-on/internal/store"
	"github.com/devstudio-tyler/company-on/pkg/config"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/postgres"
	pkgredis "github.com/devstudio-tyler/company-on/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ragctl.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// open connects to everything the commands may touch. Redis is optional;
// Kafka is only contacted when retry dispatches a task.
func open(ctx context.Context, path string) (*ragctl.Env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, "text")

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	closers := []func() error{db.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("close failed", "error", err)
			}
		}
	}
	st := store.New(db, cfg.Ingestion.InsertBatchSize)

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	counter, err := chunker.NewCounter(cfg.Chunker.Tokenizer)
	if err != nil {
		closeAll()
		return nil, err
	}
	ocr, err := parser.NewOCREngine()
	if err != nil {
		slog.Debug("ocr disabled", "error", err)
	}
	docParser := parser.New(parser.OptionsFromConfig(cfg.Parser), ocr, counter)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, embedding cache disabled", "error", err)
	} else {
		closers = append(closers, redisClient.Close)
	}
	emb, _ := embedder.FromConfig(cfg.Embedding, redisClient, nil)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestTasks)
	closers = append(closers, producer.Close)

	service := ingestion.NewService(st, blobs, docParser, ingestion.NewKafkaDispatcher(producer), ingestion.LogNotifier{}, cfg.Parser.MaxFileSize)
	pipeline := ingestion.NewPipeline(st, blobs, docParser,
		chunker.Set{
			Text: chunker.FromConfig(cfg.Chunker, counter),
			Rows: chunker.NewPassthroughRowChunker(counter),
		},
		emb, ingestion.PipelineConfigFrom(cfg.Ingestion))

	return &ragctl.Env{
		Jobs:     maintenance.New(st, blobs, emb),
		Uploads:  service,
		Runner:   pipeline,
		Searcher: retrieval.NewEngine(st, emb, nil),
		Close:    closeAll,
	}, nil
}
