package api

import (
	"net/http"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/reindex"
)

type AdminHandler struct {
	realtime    Resubscriber
	reindexer   Reindexer
	credentials CredentialValidator
}

func NewAdminHandler(rt Resubscriber, rx Reindexer, cv CredentialValidator) *AdminHandler {
	return &AdminHandler{realtime: rt, reindexer: rx, credentials: cv}
}

// InitWatchers POST /api/admin/watchers/init
func (h *AdminHandler) InitWatchers(w http.ResponseWriter, r *http.Request) {
	if h.realtime == nil {
		respond.WriteUnavailable(w, "realtime watcher not configured")
		return
	}
	h.realtime.Resubscribe()
	respond.WriteJSON(w, http.StatusOK, map[string]any{"subscribed": h.realtime.Subscribed()})
}

// Reindex POST /api/admin/reindex
func (h *AdminHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
		reindex.Options
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	target := reindex.Target(req.Target)
	if target == "" {
		target = reindex.TargetAll
	}
	res, err := h.reindexer.Run(r.Context(), target, req.Options)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"target": target, "processed": res.Processed(), "result": res})
}

// Credential GET /api/admin/credential
func (h *AdminHandler) Credential(w http.ResponseWriter, r *http.Request) {
	if h.credentials == nil {
		respond.WriteUnavailable(w, "model not configured")
		return
	}
	respond.WriteJSON(w, http.StatusOK, h.credentials.ValidateCredential(r.Context()))
}
