// Command searcher serves hybrid keyword and vector search over the indexed
// chunks.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/devstudio-tyler/company-on/internal/embedder"
	"github.com/devstudio-tyler/company-on/internal/retrieval"
	"github.com/devstudio-tyler/company-on/internal/retrieval/cache"
	"github.com/devstudio-tyler/company-on/internal/retrieval/handler"
	"github.com/devstudio-tyler/company-on/internal/store"
	"github.com/devstudio-tyler/company-on/pkg/config"
	"github.com/devstudio-tyler/company-on/pkg/health"
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
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db, cfg.Ingestion.InsertBatchSize)

	m := metrics.New()

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	emb, embedClient := embedder.FromConfig(cfg.Embedding, redisClient, m)
	engine := retrieval.NewEngine(st, emb, m)
	h := handler.New(engine, queryCache, handler.Defaults{
		Limit:      cfg.Search.DefaultLimit,
		MaxResults: cfg.Search.MaxResults,
		Alpha:      cfg.Search.Alpha,
		Beta:       cfg.Search.Beta,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db, true))
	checker.Register("embedding", health.PingCheck(embedClient, false))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(middleware.Routes(mux),
		middleware.RequestID,
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Search.Timeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
