// Package config loads application configuration from a YAML file and
// applies CO_* environment-variable overrides on top of built-in defaults.
// Every binary (ingestion API, worker, searcher, ragctl) reads the same
// Config and picks the sections it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Parser    ParserConfig    `yaml:"parser"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnectAttempts int           `yaml:"connectAttempts"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Workers       int         `yaml:"workers"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to Kafka topic strings.
type KafkaTopics struct {
	IngestTasks    string `yaml:"ingestTasks"`
	ProgressEvents string `yaml:"progressEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"poolSize"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	ProgressPrefix string        `yaml:"progressPrefix"`
}

// StorageConfig selects the blob store backend ("fs" or "minio").
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	MinIO   MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds S3-compatible object store settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// ParserConfig controls document parsing limits.
type ParserConfig struct {
	MaxFileSize       int64    `yaml:"maxFileSize"`
	OCRLanguages      []string `yaml:"ocrLanguages"`
	MaxRowsPerSegment int      `yaml:"maxRowsPerSegment"`
	MaxCellLength     int      `yaml:"maxCellLength"`
}

// ChunkerConfig controls sentence chunking. Tokenizer is "estimate" or
// "cl100k".
type ChunkerConfig struct {
	TargetTokens     int    `yaml:"targetTokens"`
	MaxTokens        int    `yaml:"maxTokens"`
	OverlapTokens    int    `yaml:"overlapTokens"`
	MinSentenceChars int    `yaml:"minSentenceChars"`
	Tokenizer        string `yaml:"tokenizer"`
}

// EmbeddingConfig describes the embedding backend. Provider is "ollama" or
// "openai".
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"baseUrl"`
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batchSize"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheOn   bool          `yaml:"cache"`
}

// SearchConfig controls hybrid retrieval defaults.
type SearchConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxResults   int           `yaml:"maxResults"`
	Alpha        float64       `yaml:"alpha"`
	Beta         float64       `yaml:"beta"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IngestionConfig controls the pipeline run.
type IngestionConfig struct {
	PipelineTimeout  time.Duration `yaml:"pipelineTimeout"`
	StaleAfter       time.Duration `yaml:"staleAfter"`
	FailedRetention  time.Duration `yaml:"failedRetention"`
	TempDir          string        `yaml:"tempDir"`
	EmbedAttempts    int           `yaml:"embedAttempts"`
	InsertBatchSize  int           `yaml:"insertBatchSize"`
	ProgressBufferSz int           `yaml:"progressBufferSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if path is non-empty) and applies
// environment-variable overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Chunker.TargetTokens <= 0 || c.Chunker.MaxTokens < c.Chunker.TargetTokens {
		return fmt.Errorf("chunker: maxTokens (%d) must be >= targetTokens (%d) > 0",
			c.Chunker.MaxTokens, c.Chunker.TargetTokens)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding: dimension must be positive, got %d", c.Embedding.Dimension)
	}
	switch c.Storage.Backend {
	case "fs", "minio":
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "companyon",
			User:            "companyon",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectAttempts: 5,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "companyon-ingest",
			Workers:       2,
			Topics: KafkaTopics{
				IngestTasks:    "document-ingest-tasks",
				ProgressEvents: "upload-progress",
			},
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			CacheTTL:       60 * time.Second,
			ProgressPrefix: "upload:",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Dir:     "data/blobs",
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "documents",
			},
		},
		Parser: ParserConfig{
			MaxFileSize:       100 << 20,
			OCRLanguages:      []string{"kor", "eng"},
			MaxRowsPerSegment: 50,
			MaxCellLength:     1000,
		},
		Chunker: ChunkerConfig{
			TargetTokens:     512,
			MaxTokens:        1024,
			OverlapTokens:    50,
			MinSentenceChars: 10,
			Tokenizer:        "estimate",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
			BatchSize: 100,
			Timeout:   60 * time.Second,
			CacheOn:   true,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
			MaxResults:   50,
			Alpha:        0.7,
			Beta:         0.3,
			Timeout:      10 * time.Second,
		},
		Ingestion: IngestionConfig{
			PipelineTimeout:  10 * time.Minute,
			StaleAfter:       30 * time.Minute,
			FailedRetention:  7 * 24 * time.Hour,
			EmbedAttempts:    3,
			InsertBatchSize:  200,
			ProgressBufferSz: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CO_* environment variables and overrides the
// matching config fields. Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setInt("CO_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("CO_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	setString("CO_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("CO_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("CO_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("CO_POSTGRES_USER", &cfg.Postgres.User)
	setString("CO_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("CO_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	if v := os.Getenv("CO_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setInt("CO_KAFKA_WORKERS", &cfg.Kafka.Workers)

	setString("CO_REDIS_ADDR", &cfg.Redis.Addr)
	setString("CO_REDIS_PASSWORD", &cfg.Redis.Password)

	setString("CO_STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("CO_STORAGE_DIR", &cfg.Storage.Dir)
	setString("CO_MINIO_ENDPOINT", &cfg.Storage.MinIO.Endpoint)
	setString("CO_MINIO_ACCESS_KEY", &cfg.Storage.MinIO.AccessKey)
	setString("CO_MINIO_SECRET_KEY", &cfg.Storage.MinIO.SecretKey)
	setString("CO_MINIO_BUCKET", &cfg.Storage.MinIO.Bucket)

	if v := os.Getenv("CO_OCR_LANGUAGES"); v != "" {
		cfg.Parser.OCRLanguages = strings.Split(v, "+")
	}

	setString("CO_CHUNKER_TOKENIZER", &cfg.Chunker.Tokenizer)

	setString("CO_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("CO_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	setString("CO_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	setString("CO_EMBEDDING_MODEL", &cfg.Embedding.Model)
	setInt("CO_EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)

	setFloat("CO_SEARCH_ALPHA", &cfg.Search.Alpha)
	setFloat("CO_SEARCH_BETA", &cfg.Search.Beta)

	setString("CO_INGESTION_TEMP_DIR", &cfg.Ingestion.TempDir)

	setString("CO_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("CO_LOGGING_FORMAT", &cfg.Logging.Format)
}
