// Package config loads service settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector backends.
const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendMemory   = "memory"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	// Auth
	APIKey string

	// Vector store
	VectorBackend string
	DatabaseURL   string
	DBMaxConns    int32
	SupabaseURL   string
	SupabaseKey   string
	SupabaseTable string
	EmbeddingDims int

	// Embedding service
	EmbedderURL     string
	EmbedderModel   string
	EmbedderTimeout time.Duration
	EmbedCacheSize  int

	// Cross-encoder reranker; empty URL disables reranking.
	RerankerURL   string
	RerankerModel string
	RerankTimeout time.Duration

	// Retrieval
	SearchTimeout  time.Duration
	KCandidates    int
	TopPassages    int
	MatchThreshold float64
	UseHybrid      bool
	UseRerank      bool

	// Per-client limit on /api/retrieve and /api/ask; zero disables.
	QueryRateLimit float64
	QueryBurst     int

	// Answer generation
	AnthropicAPIKey string
	AnthropicModel  string

	// Worker pool
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentEmbed int
	EmbedBatchSize     int

	// Upload limits
	MaxUploadBytes int64

	// Chunking
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	Tokenizer          string

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// Load reads .env (when present) and the environment. Values already set in
// the environment win over .env.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:     envOr("PORT", "8090"),
		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),

		APIKey: os.Getenv("DOCRAG_API_KEY"),

		VectorBackend: strings.ToLower(envOr("VECTOR_BACKEND", BackendPostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(envInt("DB_MAX_CONNS", 10)),
		SupabaseURL:   os.Getenv("SUPABASE_URL"),
		SupabaseKey:   os.Getenv("SUPABASE_KEY"),
		SupabaseTable: envOr("SUPABASE_TABLE", "documents"),
		EmbeddingDims: envInt("EMBEDDING_DIMS", 768),

		EmbedderURL:     envOr("EMBEDDER_URL", "http://localhost:11434"),
		EmbedderModel:   envOr("EMBEDDER_MODEL", "nomic-embed-text"),
		EmbedderTimeout: envDuration("EMBEDDER_TIMEOUT", 30*time.Second),
		EmbedCacheSize:  envInt("EMBED_CACHE_SIZE", 1024),

		RerankerURL:   os.Getenv("RERANKER_URL"),
		RerankerModel: envOr("RERANKER_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
		RerankTimeout: envDuration("RERANK_TIMEOUT", 30*time.Second),

		SearchTimeout:  envDuration("SEARCH_TIMEOUT", 10*time.Second),
		KCandidates:    envInt("K_CANDIDATES", 20),
		TopPassages:    envInt("TOP_PASSAGES", 5),
		MatchThreshold: envFloat("MATCH_THRESHOLD", 0.1),
		UseHybrid:      envBool("USE_HYBRID", true),
		UseRerank:      envBool("USE_RERANK", true),

		QueryRateLimit: envFloat("QUERY_RATE_LIMIT", 5),
		QueryBurst:     envInt("QUERY_BURST", 10),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WorkerCount:        envInt("WORKER_COUNT", 4),
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentEmbed: envInt("MAX_CONCURRENT_EMBED", 4),
		EmbedBatchSize:     envInt("EMBED_BATCH_SIZE", 50),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		ChunkMaxTokens:     envInt("CHUNK_MAX_TOKENS", 1000),
		ChunkOverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", 200),
		Tokenizer:          envOr("TOKENIZER", "cl100k_base"),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.DBMaxConns <= 0 {
		cfg.DBMaxConns = 10
	}
	if cfg.EmbedCacheSize <= 0 {
		cfg.EmbedCacheSize = 1024
	}
	if cfg.KCandidates <= 0 {
		cfg.KCandidates = 20
	}
	if cfg.TopPassages <= 0 {
		cfg.TopPassages = 5
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentEmbed <= 0 {
		cfg.MaxConcurrentEmbed = 4
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.QueryBurst <= 0 {
		cfg.QueryBurst = 1
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate reports every missing or inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("DOCRAG_API_KEY is required"))
	}
	switch c.VectorBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres backend"))
		}
		if c.EmbeddingDims <= 0 {
			errs = append(errs, fmt.Errorf("EMBEDDING_DIMS must be positive"))
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			errs = append(errs, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend))
	}
	if c.ChunkMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_MAX_TOKENS must be positive"))
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP_TOKENS must be in [0, CHUNK_MAX_TOKENS)"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return fallback
	}
	return l
}
