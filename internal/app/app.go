// Package app wires configured components into a running service. Both the
// HTTP server and the CLI build from it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docrag/internal/answer"
	"github.com/dgallion1/docrag/internal/chunker"
	"github.com/dgallion1/docrag/internal/config"
	"github.com/dgallion1/docrag/internal/embed"
	"github.com/dgallion1/docrag/internal/parser"
	"github.com/dgallion1/docrag/internal/pipeline"
	"github.com/dgallion1/docrag/internal/rerank"
	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/router"
	"github.com/dgallion1/docrag/internal/supabase"
	"github.com/dgallion1/docrag/internal/tokenizer"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

// App holds the shared components. Composer and Stats are nil without an
// Anthropic API key.
type App struct {
	Store     vectorstore.Store
	Embedder  embed.Embedder // uncached, for ingestion
	Tokenizer tokenizer.Tokenizer
	Retriever *retrieval.Retriever
	Router    *router.Router
	Composer  *answer.Composer
	Stats     *answer.LLMStats
	Pipeline  pipeline.Config

	cfg     config.Config
	closers []func()
}

// New builds every component from cfg.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tokenizer = tok

	client := embed.NewClient(cfg.EmbedderURL, cfg.EmbedderModel, cfg.EmbedderTimeout, log)
	a.closers = append(a.closers, client.Close)
	a.Embedder = client

	cached, err := embed.NewCached(client, cfg.EmbedCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	// A typed nil would defeat the retriever's nil check.
	var scorer retrieval.PairScorer
	if cfg.RerankerURL != "" {
		scorer = rerank.NewClient(cfg.RerankerURL, cfg.RerankerModel, cfg.RerankTimeout, log)
	}

	searcher := &vectorstore.Searcher{Store: store, Embedder: cached, Threshold: cfg.MatchThreshold}
	a.Retriever = retrieval.New(searcher, scorer, log)
	a.Router = router.New(cached, router.DefaultConfig(), log)

	if cfg.AnthropicAPIKey != "" {
		claude := answer.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, "")
		a.closers = append(a.closers, claude.Close)
		a.Stats = answer.NewLLMStats(time.Hour)
		a.Composer = answer.NewComposer(claude, a.Stats, log)
	}

	a.Pipeline = pipeline.Config{
		WorkerCount:        cfg.WorkerCount,
		MaxQueueSize:       cfg.MaxQueueSize,
		JobTTL:             cfg.JobTTL,
		Chunk:              chunker.Config{MaxTokens: cfg.ChunkMaxTokens, OverlapTokens: cfg.ChunkOverlapTokens},
		EmbedBatchSize:     cfg.EmbedBatchSize,
		MaxConcurrentEmbed: cfg.MaxConcurrentEmbed,
		Parser:             parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
	}

	log.Info("components_ready",
		slog.String("backend", cfg.VectorBackend),
		slog.String("embedder_model", cfg.EmbedderModel),
		slog.String("tokenizer", cfg.Tokenizer),
		slog.Bool("rerank", scorer != nil),
		slog.Bool("answers", a.Composer != nil))
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case config.BackendPostgres:
		pool, err := vectorstore.NewPool(ctx, cfg.DatabaseURL, vectorstore.PoolConfig{MaxConns: int(cfg.DBMaxConns)})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store := vectorstore.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx, cfg.EmbeddingDims); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendSupabase:
		client := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTable)
		a.closers = append(a.closers, client.Close)
		return client, nil
	case config.BackendMemory:
		return vectorstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// RetrieveOptions returns the configured retrieval options.
func (a *App) RetrieveOptions() retrieval.Options {
	return retrieval.Options{
		KCandidates:   a.cfg.KCandidates,
		TopK:          a.cfg.TopPassages,
		UseHybrid:     a.cfg.UseHybrid,
		UseRerank:     a.cfg.UseRerank,
		SearchTimeout: a.cfg.SearchTimeout,
		RerankTimeout: a.cfg.RerankTimeout,
	}
}

// NewWorker returns a synchronous ingestion worker.
func (a *App) NewWorker(log *slog.Logger) *pipeline.Worker {
	return pipeline.NewWorker(a.Store, a.Embedder, a.Tokenizer, log, a.Pipeline)
}

// NewOrchestrator returns an ingestion pool; the caller starts it.
func (a *App) NewOrchestrator(log *slog.Logger) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(a.Pipeline, a.Store, a.Embedder, a.Tokenizer, log)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
