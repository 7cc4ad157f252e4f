package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dgallion1/docrag/internal/embed"
)

// Confidence levels reported with a routing decision.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Routing methods.
const (
	MethodEmbedding = "embedding"
	MethodKeyword   = "keyword"
)

// Config holds the similarity thresholds.
type Config struct {
	SingleThreshold float64 // top similarity at or above routes to one folder
	MultiThreshold  float64 // second similarity at or above routes to two
}

func DefaultConfig() Config {
	return Config{SingleThreshold: 0.7, MultiThreshold: 0.5}
}

// Similarity is a category's score for a query.
type Similarity struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Decision is the result of routing one query.
type Decision struct {
	Folders      []string     `json:"folders"`
	Confidence   string       `json:"confidence"`
	Method       string       `json:"method"`
	Similarities []Similarity `json:"similarities,omitempty"`
}

// Router routes queries by comparing their embedding to each category
// summary embedding.
type Router struct {
	embedder embed.Embedder
	cfg      Config
	log      *slog.Logger

	mu        sync.Mutex
	summaries [][]float32
}

func New(embedder embed.Embedder, cfg Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{embedder: embedder, cfg: cfg, log: log}
}

// Route picks the folders to search for query. It never fails: when the
// embedder is unavailable it falls back to keyword matching.
func (r *Router) Route(ctx context.Context, query string) Decision {
	if r.embedder != nil {
		d, err := r.routeEmbedding(ctx, query)
		if err == nil {
			return d
		}
		r.log.Warn("embedding_routing_failed_using_keywords", slog.String("error", err.Error()))
	}
	return RouteKeywords(query)
}

func (r *Router) routeEmbedding(ctx context.Context, query string) (Decision, error) {
	summaries, err := r.summaryEmbeddings(ctx)
	if err != nil {
		return Decision{}, err
	}
	q, err := embed.One(ctx, r.embedder, query)
	if err != nil {
		return Decision{}, fmt.Errorf("embed query: %w", err)
	}

	sims := make([]Similarity, len(categories))
	for i, c := range categories {
		sims[i] = Similarity{Category: c.Name, Score: embed.Cosine(q, summaries[i])}
	}
	sort.SliceStable(sims, func(i, j int) bool { return sims[i].Score > sims[j].Score })

	d := Decision{Method: MethodEmbedding, Similarities: sims}
	top, second := sims[0], sims[1]
	switch {
	case top.Score >= r.cfg.SingleThreshold:
		d.Folders = []string{top.Category}
		d.Confidence = ConfidenceHigh
	case second.Score >= r.cfg.MultiThreshold:
		for _, s := range sims[:2] {
			if s.Score >= r.cfg.MultiThreshold {
				d.Folders = append(d.Folders, s.Category)
			}
		}
		d.Confidence = ConfidenceMedium
	default:
		d.Folders = []string{top.Category}
		d.Confidence = ConfidenceLow
	}

	r.log.Debug("query_routed",
		slog.String("method", d.Method),
		slog.String("confidence", d.Confidence),
		slog.Float64("top_similarity", top.Score),
		slog.Any("folders", d.Folders),
	)
	return d, nil
}

// summaryEmbeddings embeds the category summaries on first use. A failed
// attempt is not cached.
func (r *Router) summaryEmbeddings(ctx context.Context) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summaries != nil {
		return r.summaries, nil
	}

	texts := make([]string, len(categories))
	for i, c := range categories {
		texts[i] = c.Summary
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed category summaries: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed category summaries: got %d vectors for %d texts", len(vecs), len(texts))
	}
	r.summaries = vecs
	return vecs, nil
}

// RouteKeywords routes by keyword stems. The category with the most hits
// wins; ties keep every tied category. No hit searches all categories.
func RouteKeywords(query string) Decision {
	q := strings.ToLower(query)
	q = strings.NewReplacer("by-law", "bylaw", "by law", "bylaw").Replace(q)
	words := wordRe.FindAllString(q, -1)

	best := 0
	var folders []string
	for _, c := range categories {
		hits := 0
		for _, w := range words {
			for _, stem := range c.Stems {
				if strings.HasPrefix(w, stem) {
					hits++
					break
				}
			}
		}
		switch {
		case hits == 0 || hits < best:
		case hits > best:
			best = hits
			folders = []string{c.Name}
		default:
			folders = append(folders, c.Name)
		}
	}

	if best == 0 {
		return Decision{Folders: Names(), Confidence: ConfidenceLow, Method: MethodKeyword}
	}
	conf := ConfidenceMedium
	if len(folders) > 1 {
		conf = ConfidenceLow
	}
	return Decision{Folders: folders, Confidence: conf, Method: MethodKeyword}
}
