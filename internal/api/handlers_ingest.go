package api

import (
	"net/http"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/ingest"
)

const ingestedMessage = "Interacción ingerida. El análisis se ejecutará automáticamente."

type IngestHandler struct {
	svc Ingester
}

func NewIngestHandler(svc Ingester) *IngestHandler { return &IngestHandler{svc: svc} }

type ingestResponse struct {
	*ingest.Result
	Message string `json:"message"`
}

func (h *IngestHandler) writeResult(w http.ResponseWriter, res *ingest.Result, err error) {
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, ingestResponse{Result: res, Message: ingestedMessage})
}

// Email POST /api/ingest/email
func (h *IngestHandler) Email(w http.ResponseWriter, r *http.Request) {
	var p ingest.EmailPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	res, err := h.svc.IngestEmail(r.Context(), &p)
	h.writeResult(w, res, err)
}

// RawEmail POST /api/ingest/email/raw (body is an RFC 5322 message)
func (h *IngestHandler) RawEmail(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	res, err := h.svc.IngestRawEmail(r.Context(), body, r.URL.Query().Get("company"))
	h.writeResult(w, res, err)
}

// Slack POST /api/ingest/slack
func (h *IngestHandler) Slack(w http.ResponseWriter, r *http.Request) {
	var p ingest.SlackPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	res, err := h.svc.IngestSlack(r.Context(), &p)
	h.writeResult(w, res, err)
}

// WhatsApp POST /api/ingest/whatsapp
func (h *IngestHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	var p ingest.WhatsAppPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	res, err := h.svc.IngestWhatsApp(r.Context(), &p)
	h.writeResult(w, res, err)
}

// Note POST /api/notes
func (h *IngestHandler) Note(w http.ResponseWriter, r *http.Request) {
	var n ingest.Note
	if !decodeJSON(w, r, &n) {
		return
	}
	in, err := h.svc.AddNote(r.Context(), &n)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, in)
}
