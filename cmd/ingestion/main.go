// Command ingestion starts the upload HTTP service.
//
// The service accepts files via POST /api/v1/uploads, validates them,
// stores the bytes in the blob store, records an upload session in
// PostgreSQL and publishes a processing task to Kafka for the worker.
// Progress events are fanned out to Kafka and Redis pub/sub, and
// GET /api/v1/uploads/{id}/stream relays them to clients as server-sent
// events. Processed documents and their chunks are served under
// /api/v1/documents.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/chunker"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/ingestion/handler"
	"github.com/devstudio-tyler/company-on/internal/parser"
	"github.com/devstudio-tyler/company-on/internal/store"
	"github.com/devstudio-tyler/company-on/pkg/config"
	"github.com/devstudio-tyler/company-on/pkg/health"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/middleware"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

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
	slog.Info("connected to postgres")
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
	// The API only needs format and size checks; OCR runs in the worker.
	files := parser.New(parser.OptionsFromConfig(cfg.Parser), nil, counter)

	m := metrics.New()

	taskProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestTasks)
	defer taskProducer.Close()
	progressProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ProgressEvents)
	defer progressProducer.Close()

	var notifyWG sync.WaitGroup
	notifiers := ingestion.Fanout{ingestion.LogNotifier{}}
	kafkaProgress := ingestion.NewAsyncNotifier("kafka", ingestion.KafkaSink{Producer: progressProducer}, cfg.Ingestion.ProgressBufferSz, m)
	notifyWG.Go(func() { kafkaProgress.Run(ctx) })
	notifiers = append(notifiers, kafkaProgress)

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, progress pub/sub disabled", "error", err)
	} else {
		defer redisClient.Close()
		redisProgress := ingestion.NewAsyncNotifier("redis", ingestion.RedisSink{Client: redisClient, Prefix: cfg.Redis.ProgressPrefix}, cfg.Ingestion.ProgressBufferSz, m)
		notifyWG.Go(func() { redisProgress.Run(ctx) })
		notifiers = append(notifiers, redisProgress)
		slog.Info("progress pub/sub enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ProgressPrefix)
	}

	service := ingestion.NewService(st, blobs, files, ingestion.NewKafkaDispatcher(taskProducer), notifiers, cfg.Parser.MaxFileSize)
	handlerOpts := []handler.Option{handler.WithDocuments(ingestion.NewDocuments(st, blobs, service))}
	if redisClient != nil {
		handlerOpts = append(handlerOpts, handler.WithProgress(ingestion.RedisFeed{Client: redisClient, Prefix: cfg.Redis.ProgressPrefix}))
	}
	h := handler.New(service, cfg.Parser.MaxFileSize, handlerOpts...)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db, true))
	if p, ok := blobs.(health.Pinger); ok {
		checker.Register("blob_store", health.PingCheck(p, true))
	}
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, false))
	} else {
		checker.Register("redis", health.PingCheck(nil, false))
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(middleware.Routes(mux),
		middleware.RequestID,
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	server.RegisterOnShutdown(h.CloseStreams)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	notifyWG.Wait()
	slog.Info("ingestion service stopped")
}
