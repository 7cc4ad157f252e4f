// Package rerank scores (query, passage) pairs with a remote cross-encoder.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/docrag/internal/retrieval"
)

// Request is the /v1/rerank payload.
type Request struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

// Result is one scored candidate, addressed by its request index.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Response is the /v1/rerank reply.
type Response struct {
	Results []Result `json:"results"`
	Model   string   `json:"model"`
}

// Client implements retrieval.PairScorer over HTTP.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

var _ retrieval.PairScorer = (*Client)(nil)

// NewClient creates a reranker client. Per-call deadlines come from the
// context; timeout bounds the underlying connection.
func NewClient(baseURL, model string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// ScorePairs returns one score per pair in input order. Pairs sharing a
// query are sent in a single request.
func (c *Client) ScorePairs(ctx context.Context, pairs []retrieval.Pair) ([]float64, error) {
	scores := make([]float64, len(pairs))
	if len(pairs) == 0 {
		return scores, nil
	}

	var order []string
	groups := make(map[string][]int)
	for i, p := range pairs {
		if _, ok := groups[p.Query]; !ok {
			order = append(order, p.Query)
		}
		groups[p.Query] = append(groups[p.Query], i)
	}

	for _, q := range order {
		idx := groups[q]
		passages := make([]string, len(idx))
		for j, i := range idx {
			passages[j] = pairs[i].Passage
		}
		got, err := c.score(ctx, q, passages)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			scores[i] = got[j]
		}
	}
	return scores, nil
}

func (c *Client) score(ctx context.Context, query string, passages []string) ([]float64, error) {
	start := time.Now()

	body, err := json.Marshal(Request{Query: query, Candidates: passages, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("invalid result index %d for %d candidates", r.Index, len(passages))
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: no score for candidate %d", retrieval.ErrScoreCount, i)
		}
	}

	c.log.Debug("rerank_scored",
		slog.Int("candidate_count", len(passages)),
		slog.String("model", out.Model),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return scores, nil
}

func (c *Client) Model() string { return c.model }
