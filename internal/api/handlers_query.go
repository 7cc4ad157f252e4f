package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/router"
)

// maxQueryBody bounds JSON request bodies for retrieve and ask.
const maxQueryBody = 1 << 20

type retrieveRequest struct {
	Query       string   `json:"query"`
	Question    string   `json:"question"`
	Folders     []string `json:"folders"`
	KCandidates int      `json:"k_candidates"`
	TopK        int      `json:"top_k"`
	UseHybrid   *bool    `json:"use_hybrid"`
	UseRerank   *bool    `json:"use_rerank"`
}

// text returns the query, accepting either field name.
func (req retrieveRequest) text() string {
	if q := strings.TrimSpace(req.Query); q != "" {
		return q
	}
	return strings.TrimSpace(req.Question)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	folders, routing, err := s.folders(r, req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	passages, err := s.retrieve(r, req, folders)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":       req.text(),
		"folders":     folders,
		"routing":     routing,
		"passages":    nonNil(passages),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Composer == nil {
		jsonError(w, "answer generation is not configured", http.StatusServiceUnavailable)
		return
	}
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	folders, routing, err := s.folders(r, req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	passages, err := s.retrieve(r, req, folders)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ans, err := s.deps.Composer.Answer(r.Context(), req.text(), passages)
	if err != nil {
		s.log.Error("answer_failed", "error", err)
		jsonError(w, "answer generation failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":      ans,
		"folders":     folders,
		"routing":     routing,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (retrieveRequest, bool) {
	var req retrieveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.text() == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// folders canonicalizes explicit folders, or routes the query when none
// were given.
func (s *Server) folders(r *http.Request, req retrieveRequest) ([]string, *router.Decision, error) {
	if len(req.Folders) == 0 {
		d := s.deps.Router.Route(r.Context(), req.text())
		return d.Folders, &d, nil
	}
	out := make([]string, 0, len(req.Folders))
	for _, f := range req.Folders {
		name, err := router.NormalizeCategory(f)
		if err != nil {
			return nil, nil, errors.New(err.Error() + ": " + f)
		}
		out = append(out, name)
	}
	return out, nil, nil
}

func (s *Server) options(req retrieveRequest) retrieval.Options {
	opts := retrieval.Options{
		KCandidates:   s.cfg.KCandidates,
		TopK:          s.cfg.TopPassages,
		UseHybrid:     s.cfg.UseHybrid,
		UseRerank:     s.cfg.UseRerank,
		SearchTimeout: s.cfg.SearchTimeout,
		RerankTimeout: s.cfg.RerankTimeout,
	}
	if req.KCandidates > 0 {
		opts.KCandidates = req.KCandidates
	}
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	if req.UseHybrid != nil {
		opts.UseHybrid = *req.UseHybrid
	}
	if req.UseRerank != nil {
		opts.UseRerank = *req.UseRerank
	}
	return opts
}

// retrieve runs the retriever. A failed vector search is reported to the
// caller as no passages, so answers degrade to "no information found".
func (s *Server) retrieve(r *http.Request, req retrieveRequest, folders []string) ([]retrieval.Candidate, error) {
	passages, err := s.deps.Retriever.Retrieve(r.Context(), req.text(), folders, s.options(req))
	var stageErr *retrieval.StageError
	if errors.As(err, &stageErr) {
		s.log.Warn("retrieval_failed_returning_no_passages",
			"stage", stageErr.Stage,
			"error", stageErr.Err,
			"request_id", middleware.GetReqID(r.Context()))
		return nil, nil
	}
	return passages, err
}

func nonNil(cs []retrieval.Candidate) []retrieval.Candidate {
	if cs == nil {
		return []retrieval.Candidate{}
	}
	return cs
}
