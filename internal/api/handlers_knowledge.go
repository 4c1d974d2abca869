package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/knowledge"
	"github.com/moctezuma-dev/zappy-back/internal/model"
)

type KnowledgeHandler struct {
	svc KnowledgeBase
}

func NewKnowledgeHandler(svc KnowledgeBase) *KnowledgeHandler { return &KnowledgeHandler{svc: svc} }

func (h *KnowledgeHandler) writeEntries(w http.ResponseWriter, entries []*model.KnowledgeEntry, err error) {
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]any{"data": entries, "chunks": len(entries)})
}

// Add POST /api/knowledge
func (h *KnowledgeHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req knowledge.AddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entries, err := h.svc.Add(r.Context(), req)
	h.writeEntries(w, entries, err)
}

// AddURL POST /api/knowledge/url
func (h *KnowledgeHandler) AddURL(w http.ResponseWriter, r *http.Request) {
	var req knowledge.URLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entries, err := h.svc.AddFromURL(r.Context(), req)
	h.writeEntries(w, entries, err)
}

// Search POST /api/knowledge/search
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string `json:"query"`
		CompanyID string `json:"companyId"`
		Limit     int    `json:"limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		respond.WriteBadRequest(w, "query es requerido")
		return
	}
	hits, err := h.svc.Search(r.Context(), req.Query, req.CompanyID, req.Limit)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": hits, "count": len(hits)})
}

// List GET /api/knowledge
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		respond.WriteBadRequest(w, "limit and offset must be non-negative integers")
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.List(r.Context(), knowledge.ListRequest{
		CompanyID: q.Get("companyId"),
		Search:    q.Get("search"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// Delete DELETE /api/knowledge/{id}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
