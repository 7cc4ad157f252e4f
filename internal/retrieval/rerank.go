package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrScoreCount is returned when a PairScorer does not return exactly one
// score per pair.
var ErrScoreCount = errors.New("pair scorer returned wrong number of scores")

// Pair is one (query, passage) input to a relevance model.
type Pair struct {
	Query   string `json:"query"`
	Passage string `json:"passage"`
}

// PairScorer scores pairs with a cross-encoder style model. Scores are in
// input order; higher is more relevant.
type PairScorer interface {
	ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error)
}

// Rerank scores every candidate against query and returns the topK best by
// RerankScore. An empty candidate list returns without calling the scorer.
func Rerank(ctx context.Context, scorer PairScorer, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	pairs := make([]Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = Pair{Query: query, Passage: c.Text}
	}

	scores, err := scorer.ScorePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(pairs) {
		return nil, fmt.Errorf("%w: got %d for %d pairs", ErrScoreCount, len(scores), len(pairs))
	}

	out := clone(candidates)
	for i := range out {
		out[i].RerankScore = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return head(out, topK), nil
}
