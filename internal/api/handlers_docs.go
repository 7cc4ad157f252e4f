package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docrag/internal/router"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

// handleListDocuments lists stored documents, optionally for one category.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	folder := ""
	if raw := r.URL.Query().Get("category"); raw != "" {
		name, err := router.NormalizeCategory(raw)
		if err != nil {
			jsonError(w, err.Error()+": "+raw, http.StatusBadRequest)
			return
		}
		folder = name
	}

	docs, err := s.deps.Store.ListDocuments(r.Context(), folder)
	if err != nil {
		s.log.Error("list_documents_failed", "error", err)
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []vectorstore.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument deletes every chunk of a document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	n, err := s.deps.Store.DeleteDocument(r.Context(), docID)
	if err != nil {
		s.log.Error("delete_document_failed", "doc_id", docID, "error", err)
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if n == 0 {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	s.log.Info("document_deleted", "doc_id", docID, "chunks", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":         docID,
		"chunks_deleted": n,
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": router.Categories()})
}
