package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
)

type AIHandler struct {
	analyzer  ManualAnalyzer
	retrieval Retriever
}

func NewAIHandler(a ManualAnalyzer, r Retriever) *AIHandler {
	return &AIHandler{analyzer: a, retrieval: r}
}

// Analyze POST /api/ai/analyze
func (h *AIHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzer.ManualRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.analyzer.TriggerManual(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"processed": n})
}

// Contexts GET /api/ai/contexts
func (h *AIHandler) Contexts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(r, "limit")
	if !ok {
		respond.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	f := model.ContextFilter{
		CompanyID: q.Get("companyId"),
		ContactID: q.Get("contactId"),
		Query:     q.Get("q"),
		Limit:     limit,
	}
	if raw := q.Get("type"); raw != "" {
		t, ok := model.ParseContextType(raw)
		if !ok {
			respond.WriteBadRequest(w, "unknown context type")
			return
		}
		f.Type = t
	}
	out, err := h.retrieval.Contexts(r.Context(), f)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": out, "count": len(out)})
}

// Search POST /api/search/query
func (h *AIHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req retrieval.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hits, err := h.retrieval.Search(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": hits, "count": len(hits)})
}

// Chat POST /api/chat
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req retrieval.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.retrieval.Chat(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// History GET /api/chat/{sessionId}/messages
func (h *AIHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		respond.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	msgs, err := h.retrieval.History(r.Context(), mux.Vars(r)["sessionId"], limit)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": msgs})
}
