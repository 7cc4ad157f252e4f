// Package supabase stores chunks in a Supabase (PostgREST) documents table
// and searches them through the match_documents RPC functions.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

// RPC function names. match_documents_by_folder filters on the folder
// column; match_documents searches every folder.
const (
	rpcMatchByFolder = "match_documents_by_folder"
	rpcMatchAll      = "match_documents"
)

// upsertBatch bounds the rows sent per POST.
const upsertBatch = 100

// Client communicates with the Supabase REST API.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
}

var _ vectorstore.Store = (*Client)(nil)

func NewClient(baseURL, apiKey, table string) *Client {
	if table == "" {
		table = "documents"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		table:   table,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// matchRequest is the body for the match RPCs.
type matchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	FolderName     string    `json:"folder_name,omitempty"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

// matchRow is one row returned by the match RPCs.
type matchRow struct {
	ChunkID     string   `json:"chunk_id"`
	DocID       string   `json:"doc_id"`
	DocTitle    string   `json:"doc_title"`
	Folder      string   `json:"folder"`
	Text        string   `json:"text"`
	PageStart   int      `json:"page_start"`
	PageEnd     int      `json:"page_end"`
	HeadingPath []string `json:"heading_path"`
	NTokens     int      `json:"n_tokens"`
	Similarity  float64  `json:"similarity"`
}

// Upsert writes records, merging on chunk_id.
func (c *Client) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for start := 0; start < len(records); start += upsertBatch {
		batch := records[start:min(start+upsertBatch, len(records))]
		q := url.Values{"on_conflict": {"chunk_id"}}
		hdr := http.Header{"Prefer": {"resolution=merge-duplicates,return=minimal"}}
		if _, err := c.do(ctx, http.MethodPost, c.tablePath(), q, hdr, batch, nil); err != nil {
			return fmt.Errorf("upsert %d records: %w", len(batch), err)
		}
	}
	return nil
}

// Search calls the folder-scoped match RPC, or the unscoped one when folder
// is empty.
func (c *Client) Search(ctx context.Context, embedding []float32, folder string, k int, threshold float64) ([]retrieval.Candidate, error) {
	fn := rpcMatchByFolder
	if folder == "" {
		fn = rpcMatchAll
	}
	req := matchRequest{
		QueryEmbedding: embedding,
		FolderName:     folder,
		MatchThreshold: threshold,
		MatchCount:     k,
	}

	var rows []matchRow
	if _, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, nil, req, &rows); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}

	out := make([]retrieval.Candidate, len(rows))
	for i, r := range rows {
		out[i] = retrieval.Candidate{
			ChunkID:     r.ChunkID,
			DocID:       r.DocID,
			DocTitle:    r.DocTitle,
			Folder:      r.Folder,
			Text:        r.Text,
			PageStart:   r.PageStart,
			PageEnd:     r.PageEnd,
			HeadingPath: r.HeadingPath,
			TokenCount:  r.NTokens,
			VectorScore: r.Similarity,
		}
	}
	return out, nil
}

// DeleteDocument removes every chunk of docID and reports how many rows
// were deleted.
func (c *Client) DeleteDocument(ctx context.Context, docID string) (int64, error) {
	q := url.Values{"doc_id": {"eq." + docID}}
	hdr := http.Header{"Prefer": {"count=exact,return=minimal"}}
	resp, err := c.do(ctx, http.MethodDelete, c.tablePath(), q, hdr, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", docID, err)
	}
	return contentRangeTotal(resp.Header.Get("Content-Range")), nil
}

// ReplaceDocument upserts records first and then deletes the document's
// rows from other versions, so a failed upsert leaves the previous chunks
// searchable. PostgREST has no multi-request transactions. Rows are told
// apart by content_hash, which records of one version share.
func (c *Client) ReplaceDocument(ctx context.Context, docID string, records []vectorstore.Record) (int64, error) {
	if err := c.Upsert(ctx, records); err != nil {
		return 0, err
	}
	q := url.Values{"doc_id": {"eq." + docID}}
	if len(records) > 0 {
		q.Set("content_hash", "neq."+records[0].ContentHash)
	}
	hdr := http.Header{"Prefer": {"count=exact,return=minimal"}}
	resp, err := c.do(ctx, http.MethodDelete, c.tablePath(), q, hdr, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("delete stale chunks of %s: %w", docID, err)
	}
	return contentRangeTotal(resp.Header.Get("Content-Range")), nil
}

// ListDocuments returns one summary per stored document.
func (c *Client) ListDocuments(ctx context.Context, folder string) ([]vectorstore.DocumentSummary, error) {
	q := url.Values{
		"select": {"doc_id,doc_title,folder,content_hash"},
		"order":  {"doc_title.asc"},
	}
	if folder != "" {
		q.Set("folder", "eq."+folder)
	}

	var rows []vectorstore.DocumentSummary
	if _, err := c.do(ctx, http.MethodGet, c.tablePath(), q, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	index := make(map[string]int)
	var out []vectorstore.DocumentSummary
	for _, r := range rows {
		if i, ok := index[r.DocID]; ok {
			out[i].Chunks++
			continue
		}
		index[r.DocID] = len(out)
		r.Chunks = 1
		out = append(out, r)
	}
	return out, nil
}

// HasContentHash reports whether any chunk carries hash.
func (c *Client) HasContentHash(ctx context.Context, hash string) (bool, error) {
	q := url.Values{
		"select":       {"chunk_id"},
		"content_hash": {"eq." + hash},
		"limit":        {"1"},
	}
	var rows []struct {
		ChunkID string `json:"chunk_id"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.tablePath(), q, nil, nil, &rows); err != nil {
		return false, fmt.Errorf("lookup content hash: %w", err)
	}
	return len(rows) > 0, nil
}

func (c *Client) tablePath() string {
	return "/rest/v1/" + c.table
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, hdr http.Header, in, out any) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range hdr {
		httpReq.Header[k] = v
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// contentRangeTotal parses the total from a PostgREST Content-Range header
// such as "*/12" or "0-9/12".
func contentRangeTotal(h string) int64 {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
