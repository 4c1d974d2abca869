package api

import (
	"encoding/base64"
	"net/http"
	"strings"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/storagewatch"
)

const storageDisabled = "storage watcher not configured"

type StorageHandler struct {
	media MediaStore
	sched storagewatch.Scheduler
}

func NewStorageHandler(media MediaStore, sched storagewatch.Scheduler) *StorageHandler {
	return &StorageHandler{media: media, sched: sched}
}

type mediaUpload struct {
	Bucket   string `json:"bucket,omitempty"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mimeType"`
	Base64   string `json:"base64"`
	Source   string `json:"source,omitempty"`
	Process  *bool  `json:"process,omitempty"`
}

// Upload POST /api/ingest/media
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		respond.WriteUnavailable(w, storageDisabled)
		return
	}
	var req mediaUpload
	if !decodeJSON(w, r, &req) {
		return
	}
	raw := req.Base64
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		if req.MIMEType == "" {
			req.MIMEType = raw[len("data:"):i]
		}
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		respond.WriteBadRequest(w, "base64 inválido")
		return
	}
	process := req.Process == nil || *req.Process
	res, err := h.media.Store(r.Context(), storagewatch.Upload{
		Bucket:   req.Bucket,
		Path:     req.Path,
		MIMEType: req.MIMEType,
		Data:     data,
		Source:   req.Source,
		Process:  process,
	}, h.sched)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.WillProcess {
		status = http.StatusAccepted
	}
	respond.WriteJSON(w, status, res)
}

// Process POST /api/storage/process
func (h *StorageHandler) Process(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		respond.WriteUnavailable(w, storageDisabled)
		return
	}
	var req struct {
		Bucket string `json:"bucket"`
		Path   string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		respond.WriteBadRequest(w, "path es requerido")
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = h.media.Bucket()
	}
	res, err := h.media.ProcessFile(r.Context(), bucket, req.Path)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}
