// Package api exposes ingestion, retrieval and answering over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docrag/internal/answer"
	"github.com/dgallion1/docrag/internal/config"
	"github.com/dgallion1/docrag/internal/pipeline"
	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/router"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

// Deps are the components the API serves. Composer and Stats may be nil when
// no LLM is configured; /api/ask then answers 503.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Store        vectorstore.Store
	Retriever    *retrieval.Retriever
	Router       *router.Router
	Composer     *answer.Composer
	Stats        *answer.LLMStats
}

// Server is the HTTP API server for docrag.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Post("/api/ingest/batch", s.handleBatchIngest)

		r.Group(func(r chi.Router) {
			if s.cfg.QueryRateLimit > 0 {
				r.Use(NewRateLimiter(s.cfg.QueryRateLimit, s.cfg.QueryBurst).Middleware)
			}
			r.Post("/api/retrieve", s.handleRetrieve)
			r.Post("/api/ask", s.handleAsk)
		})
		r.Get("/api/categories", s.handleCategories)

		r.Get("/api/documents", s.handleListDocuments)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.deps.Orchestrator.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
