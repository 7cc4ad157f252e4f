// Package retrieval ranks stored chunks for a query: vector candidates are
// fetched per folder, merged, blended with a lexical score and optionally
// reranked by a pairwise relevance model.
package retrieval

import "github.com/dgallion1/docrag/internal/doctree"

// Candidate is a stored chunk annotated with per-query scores. Scores are
// never persisted.
type Candidate struct {
	ChunkID     string   `json:"chunk_id"`
	DocID       string   `json:"doc_id"`
	DocTitle    string   `json:"doc_title"`
	Folder      string   `json:"folder"`
	Text        string   `json:"text"`
	PageStart   int      `json:"page_start"`
	PageEnd     int      `json:"page_end"`
	HeadingPath []string `json:"heading_path,omitempty"`
	TokenCount  int      `json:"token_count"`

	VectorScore float64 `json:"vector_score"`
	BM25Score   float64 `json:"bm25_score"`
	HybridScore float64 `json:"hybrid_score"`
	RerankScore float64 `json:"rerank_score"`
}

// PageRange formats the page span as "3" or "3-5".
func (c Candidate) PageRange() string {
	return doctree.FormatPageRange(c.PageStart, c.PageEnd)
}

func clone(cs []Candidate) []Candidate {
	if len(cs) == 0 {
		return []Candidate{}
	}
	out := make([]Candidate, len(cs))
	copy(out, cs)
	return out
}

func head(cs []Candidate, k int) []Candidate {
	if k < 0 {
		k = 0
	}
	if k > len(cs) {
		k = len(cs)
	}
	return cs[:k]
}
