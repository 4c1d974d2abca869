package api

import (
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/crm"
)

type CRMHandler struct {
	svc CRMViews
}

func NewCRMHandler(svc CRMViews) *CRMHandler { return &CRMHandler{svc: svc} }

func (h *CRMHandler) ready(w http.ResponseWriter) bool {
	if h.svc == nil {
		respond.WriteUnavailable(w, "crm service not configured")
		return false
	}
	return true
}

func overviewOptions(w http.ResponseWriter, r *http.Request) (crm.OverviewOptions, bool) {
	interactions, okI := queryInt(r, "interactionsLimit")
	workItems, okW := queryInt(r, "workItemsLimit")
	if !okI || !okW {
		respond.WriteBadRequest(w, "limits must be non-negative integers")
		return crm.OverviewOptions{}, false
	}
	return crm.OverviewOptions{InteractionsLimit: interactions, WorkItemsLimit: workItems}, true
}

func listQuery(w http.ResponseWriter, r *http.Request) (crm.ListQuery, bool) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		respond.WriteBadRequest(w, "limit and offset must be non-negative integers")
		return crm.ListQuery{}, false
	}
	q := r.URL.Query()
	return crm.ListQuery{
		CompanyID: q.Get("companyId"),
		ContactID: q.Get("contactId"),
		Limit:     limit,
		Offset:    offset,
	}, true
}

func writeList[T any](w http.ResponseWriter, data []T, err error) {
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": data, "count": len(data)})
}

// CompanyOverview GET /api/crm/companies/{id}/overview
func (h *CRMHandler) CompanyOverview(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	opts, ok := overviewOptions(w, r)
	if !ok {
		return
	}
	ov, err := h.svc.CompanyOverview(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, ov)
}

// ContactOverview GET /api/crm/contacts/{id}/overview
func (h *CRMHandler) ContactOverview(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	opts, ok := overviewOptions(w, r)
	if !ok {
		return
	}
	ov, err := h.svc.ContactOverview(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, ov)
}

// Timeline GET /api/crm/timeline
func (h *CRMHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		respond.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.Timeline(r.Context(), crm.TimelineQuery{
		CompanyID: q.Get("companyId"),
		ContactID: q.Get("contactId"),
		Limit:     limit,
	})
	writeList(w, entries, err)
}

// Contacts GET /api/crm/contacts
func (h *CRMHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	if q, ok := h.listReady(w, r); ok {
		out, err := h.svc.Contacts(r.Context(), q)
		writeList(w, out, err)
	}
}

// Companies GET /api/crm/companies
func (h *CRMHandler) Companies(w http.ResponseWriter, r *http.Request) {
	if q, ok := h.listReady(w, r); ok {
		out, err := h.svc.Companies(r.Context(), q)
		writeList(w, out, err)
	}
}

// Interactions GET /api/crm/interactions
func (h *CRMHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	if q, ok := h.listReady(w, r); ok {
		out, err := h.svc.Interactions(r.Context(), q)
		writeList(w, out, err)
	}
}

// WorkItems GET /api/crm/work-items
func (h *CRMHandler) WorkItems(w http.ResponseWriter, r *http.Request) {
	if q, ok := h.listReady(w, r); ok {
		out, err := h.svc.WorkItems(r.Context(), q)
		writeList(w, out, err)
	}
}

// FreshData GET /api/crm/fresh-data
func (h *CRMHandler) FreshData(w http.ResponseWriter, r *http.Request) {
	if q, ok := h.listReady(w, r); ok {
		out, err := h.svc.FreshData(r.Context(), q)
		writeList(w, out, err)
	}
}

func (h *CRMHandler) listReady(w http.ResponseWriter, r *http.Request) (crm.ListQuery, bool) {
	if !h.ready(w) {
		return crm.ListQuery{}, false
	}
	return listQuery(w, r)
}

// CreateWorkItem POST /api/work-items
func (h *CRMHandler) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req crm.WorkItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.CreateWorkItem(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]any{"data": item})
}

// DeleteContext DELETE /api/ai/contexts/{id}
func (h *CRMHandler) DeleteContext(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.svc.DeleteContext(r.Context(), mux.Vars(r)["id"]); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
