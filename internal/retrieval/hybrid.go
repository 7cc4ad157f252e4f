package retrieval

import (
	"sort"
	"strings"
)

// Hybrid weights and boosts.
const (
	VectorWeight  = 0.7
	LexicalWeight = 0.3
	PhraseBoost   = 1.2
	TitleBoost    = 1.1
)

// Combine scores candidates lexically against query and returns them sorted
// by hybrid score, highest first.
func Combine(query string, candidates []Candidate) []Candidate {
	terms := Tokenize(query)
	return Blend(query, terms, ScoreBM25(terms, candidates))
}

// Blend computes HybridScore from the existing vector and BM25 scores and
// stable-sorts descending. Ties keep input order.
func Blend(query string, terms []string, candidates []Candidate) []Candidate {
	out := clone(candidates)
	phrase := strings.ToLower(strings.TrimSpace(query))

	for i := range out {
		c := &out[i]
		score := VectorWeight*c.VectorScore + LexicalWeight*c.BM25Score
		if phrase != "" && strings.Contains(strings.ToLower(c.Text), phrase) {
			score *= PhraseBoost
		}
		if titleMatches(c.DocTitle, terms) {
			score *= TitleBoost
		}
		c.HybridScore = score
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HybridScore > out[j].HybridScore
	})
	return out
}

func titleMatches(title string, terms []string) bool {
	t := strings.ToLower(title)
	for _, term := range terms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}
