package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dgallion1/docrag/internal/embed"
	"github.com/dgallion1/docrag/internal/retrieval"
)

// MemoryStore keeps records in process. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Upsert(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.records[r.ChunkID]; !ok {
			m.order = append(m.order, r.ChunkID)
		}
		m.records[r.ChunkID] = r
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, embedding []float32, folder string, k int, threshold float64) ([]retrieval.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []retrieval.Candidate
	for _, id := range m.order {
		r := m.records[id]
		if folder != "" && r.Folder != folder {
			continue
		}
		sim := embed.Cosine(embedding, r.Embedding)
		if sim < threshold {
			continue
		}
		c := r.Candidate()
		c.VectorScore = sim
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VectorScore > out[j].VectorScore
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, docID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(docID), nil
}

func (m *MemoryStore) ReplaceDocument(ctx context.Context, docID string, records []Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.deleteLocked(docID)
	for _, r := range records {
		if _, ok := m.records[r.ChunkID]; !ok {
			m.order = append(m.order, r.ChunkID)
		}
		m.records[r.ChunkID] = r
	}
	return n, nil
}

func (m *MemoryStore) deleteLocked(docID string) int64 {
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		if m.records[id].DocID == docID {
			delete(m.records, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n
}

func (m *MemoryStore) ListDocuments(ctx context.Context, folder string) ([]DocumentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index := make(map[string]int)
	var out []DocumentSummary
	for _, id := range m.order {
		r := m.records[id]
		if folder != "" && r.Folder != folder {
			continue
		}
		if i, ok := index[r.DocID]; ok {
			out[i].Chunks++
			continue
		}
		index[r.DocID] = len(out)
		out = append(out, DocumentSummary{
			DocID:       r.DocID,
			DocTitle:    r.DocTitle,
			Folder:      r.Folder,
			ContentHash: r.ContentHash,
			Chunks:      1,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DocTitle < out[j].DocTitle })
	return out, nil
}

func (m *MemoryStore) HasContentHash(ctx context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}
