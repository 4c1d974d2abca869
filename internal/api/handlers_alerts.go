package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
)

type AlertsHandler struct {
	svc retrieval.AlertService
}

func NewAlertsHandler(svc retrieval.AlertService) *AlertsHandler { return &AlertsHandler{svc: svc} }

// List GET /api/alerts
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		respond.WriteBadRequest(w, "limit and offset must be non-negative integers")
		return
	}
	page, err := h.svc.List(r.Context(), model.AlertFilter{
		Status:     model.AlertStatus(q.Get("status")),
		Severity:   model.Severity(q.Get("severity")),
		EntityType: model.EntityType(q.Get("entityType")),
		CompanyID:  q.Get("companyId"),
		ContactID:  q.Get("contactId"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// Resolve POST /api/alerts/{id}/resolve
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.ResolveByID(r.Context(), id); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "status": model.AlertResolved})
}
