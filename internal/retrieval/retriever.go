package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// VectorSearcher returns up to k candidates from folder with VectorScore
// set. An empty folder searches every folder.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, query, folder string, k int) ([]Candidate, error)
}

// Options controls one Retrieve call.
type Options struct {
	KCandidates   int           // Candidates kept after fetch and merge.
	TopK          int           // Passages returned.
	UseHybrid     bool          // Blend BM25 into the ranking.
	UseRerank     bool          // Rerank with the pair scorer.
	SearchTimeout time.Duration // Per-folder vector search timeout; 0 disables.
	RerankTimeout time.Duration // Rerank call timeout; 0 disables.
}

// DefaultOptions returns the standard 20-candidate, top-5 configuration.
func DefaultOptions() Options {
	return Options{
		KCandidates:   20,
		TopK:          5,
		UseHybrid:     true,
		UseRerank:     true,
		SearchTimeout: 10 * time.Second,
		RerankTimeout: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KCandidates <= 0 {
		o.KCandidates = d.KCandidates
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	return o
}

// Retriever runs fetch, hybrid scoring and reranking for a query.
type Retriever struct {
	searcher VectorSearcher
	scorer   PairScorer
	log      *slog.Logger
}

// New creates a Retriever. scorer may be nil, which disables reranking.
func New(searcher VectorSearcher, scorer PairScorer, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{searcher: searcher, scorer: scorer, log: log}
}

// Retrieve returns the ranked top passages for query across folders.
// A fetch that fails for every folder returns an empty list and a
// *StageError; a rerank failure falls back to the previous ordering.
func (r *Retriever) Retrieve(ctx context.Context, query string, folders []string, opts Options) ([]Candidate, error) {
	opts = opts.withDefaults()
	log := r.log.With("retrieval_id", uuid.NewString())

	candidates, err := r.fetch(ctx, log, query, folders, opts)
	if err != nil {
		return []Candidate{}, err
	}
	if len(candidates) == 0 {
		log.Info("no_candidates_found", slog.Int("folder_count", len(folders)))
		return []Candidate{}, nil
	}

	if opts.UseHybrid {
		candidates = Combine(query, candidates)
		log.Debug("hybrid_scoring_completed", slog.Int("candidate_count", len(candidates)))
	}

	if opts.UseRerank && r.scorer != nil {
		return r.rerank(ctx, log, query, candidates, opts), nil
	}

	out := clone(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if opts.UseHybrid {
			return out[i].HybridScore > out[j].HybridScore
		}
		return out[i].VectorScore > out[j].VectorScore
	})
	return head(out, opts.TopK), nil
}

func (r *Retriever) fetch(ctx context.Context, log *slog.Logger, query string, folders []string, opts Options) ([]Candidate, error) {
	if len(folders) == 0 {
		folders = []string{""}
	}

	start := time.Now()
	results := make([][]Candidate, len(folders))
	errs := make([]error, len(folders))

	var g errgroup.Group
	for i, folder := range folders {
		g.Go(func() error {
			sctx, cancel := withTimeout(ctx, opts.SearchTimeout)
			defer cancel()
			results[i], errs[i] = r.searcher.VectorSearch(sctx, query, folder, opts.KCandidates)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
		log.Warn("vector_search_failed",
			slog.String("folder", folders[i]),
			slog.String("error", err.Error()))
	}
	if failed == len(folders) {
		return nil, &StageError{Stage: StageFetch, Err: firstErr}
	}

	merged := head(Merge(results...), opts.KCandidates)
	log.Info("vector_search_completed",
		slog.Int("folder_count", len(folders)),
		slog.Int("failed_folders", failed),
		slog.Int("candidate_count", len(merged)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return merged, nil
}

func (r *Retriever) rerank(ctx context.Context, log *slog.Logger, query string, candidates []Candidate, opts Options) []Candidate {
	start := time.Now()
	rctx, cancel := withTimeout(ctx, opts.RerankTimeout)
	reranked, err := Rerank(rctx, r.scorer, query, candidates, opts.TopK)
	cancel()

	if err != nil {
		serr := &StageError{Stage: StageRerank, Err: err}
		log.Warn("reranking_failed_using_previous_order",
			slog.String("error", serr.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return head(clone(candidates), opts.TopK)
	}

	log.Info("reranking_completed",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("reranked_count", len(reranked)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return reranked
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
