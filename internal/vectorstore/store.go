// Package vectorstore persists embedded chunks and answers folder-scoped
// similarity searches.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/dgallion1/docrag/internal/embed"
	"github.com/dgallion1/docrag/internal/retrieval"
)

// Record is one stored chunk with its embedding.
type Record struct {
	ChunkID     string    `json:"chunk_id"`
	DocID       string    `json:"doc_id"`
	DocTitle    string    `json:"doc_title"`
	Folder      string    `json:"folder"`
	Text        string    `json:"text"`
	PageStart   int       `json:"page_start"`
	PageEnd     int       `json:"page_end"`
	HeadingPath []string  `json:"heading_path"`
	TokenCount  int       `json:"n_tokens"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
}

// Candidate converts the record to an unscored retrieval candidate.
func (r Record) Candidate() retrieval.Candidate {
	return retrieval.Candidate{
		ChunkID:     r.ChunkID,
		DocID:       r.DocID,
		DocTitle:    r.DocTitle,
		Folder:      r.Folder,
		Text:        r.Text,
		PageStart:   r.PageStart,
		PageEnd:     r.PageEnd,
		HeadingPath: r.HeadingPath,
		TokenCount:  r.TokenCount,
	}
}

// DocumentSummary describes one stored document.
type DocumentSummary struct {
	DocID       string `json:"doc_id"`
	DocTitle    string `json:"doc_title"`
	Folder      string `json:"folder"`
	ContentHash string `json:"content_hash"`
	Chunks      int    `json:"chunks"`
}

// Store is the persistence contract shared by every backend. An empty
// folder means all folders.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, embedding []float32, folder string, k int, threshold float64) ([]retrieval.Candidate, error)
	DeleteDocument(ctx context.Context, docID string) (int64, error)
	// ReplaceDocument swaps every stored chunk of docID for records. On
	// error the previous chunks remain. It reports how many previous
	// chunks were removed.
	ReplaceDocument(ctx context.Context, docID string, records []Record) (int64, error)
	ListDocuments(ctx context.Context, folder string) ([]DocumentSummary, error)
	HasContentHash(ctx context.Context, hash string) (bool, error)
}

// Searcher embeds queries and searches a Store. It implements
// retrieval.VectorSearcher.
type Searcher struct {
	Store     Store
	Embedder  embed.Embedder
	Threshold float64
}

var _ retrieval.VectorSearcher = (*Searcher)(nil)

func (s *Searcher) VectorSearch(ctx context.Context, query, folder string, k int) ([]retrieval.Candidate, error) {
	vec, err := embed.One(ctx, s.Embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.Store.Search(ctx, vec, folder, k, s.Threshold)
}
