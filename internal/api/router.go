package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
	"github.com/moctezuma-dev/zappy-back/internal/api/recovery"
)

// NewRouter creates the HTTP router with every API route.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware(d.Log))
	router.Use(recovery.AccessLog(d.Log))

	healthHandler := NewHealthHandler(d.Health)
	ingestHandler := NewIngestHandler(d.Ingest)
	aiHandler := NewAIHandler(d.Analyzer, d.Retrieval)
	alertsHandler := NewAlertsHandler(d.Alerts)
	knowledgeHandler := NewKnowledgeHandler(d.Knowledge)
	crmHandler := NewCRMHandler(d.CRM)
	storageHandler := NewStorageHandler(d.Media, d.Background)
	adminHandler := NewAdminHandler(d.Realtime, d.Reindex, d.Credentials)

	// Health & metrics
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Ingestion
	router.HandleFunc("/api/ingest/email", ingestHandler.Email).Methods("POST")
	router.HandleFunc("/api/ingest/email/raw", ingestHandler.RawEmail).Methods("POST")
	router.HandleFunc("/api/ingest/slack", ingestHandler.Slack).Methods("POST")
	router.HandleFunc("/api/ingest/whatsapp", ingestHandler.WhatsApp).Methods("POST")
	router.HandleFunc("/api/ingest/media", storageHandler.Upload).Methods("POST")
	router.HandleFunc("/api/notes", ingestHandler.Note).Methods("POST")

	// Analysis, search and chat
	router.HandleFunc("/api/ai/analyze", aiHandler.Analyze).Methods("POST")
	router.HandleFunc("/api/ai/contexts", aiHandler.Contexts).Methods("GET")
	router.HandleFunc("/api/ai/contexts/{id}", crmHandler.DeleteContext).Methods("DELETE")
	router.HandleFunc("/api/search/query", aiHandler.Search).Methods("POST")
	router.HandleFunc("/api/chat", aiHandler.Chat).Methods("POST")
	router.HandleFunc("/api/chat/{sessionId}/messages", aiHandler.History).Methods("GET")

	// CRM views and manual work items
	router.HandleFunc("/api/crm/contacts", crmHandler.Contacts).Methods("GET")
	router.HandleFunc("/api/crm/companies", crmHandler.Companies).Methods("GET")
	router.HandleFunc("/api/crm/interactions", crmHandler.Interactions).Methods("GET")
	router.HandleFunc("/api/crm/work-items", crmHandler.WorkItems).Methods("GET")
	router.HandleFunc("/api/crm/fresh-data", crmHandler.FreshData).Methods("GET")
	router.HandleFunc("/api/crm/timeline", crmHandler.Timeline).Methods("GET")
	router.HandleFunc("/api/crm/companies/{id}/overview", crmHandler.CompanyOverview).Methods("GET")
	router.HandleFunc("/api/crm/contacts/{id}/overview", crmHandler.ContactOverview).Methods("GET")
	router.HandleFunc("/api/work-items", crmHandler.CreateWorkItem).Methods("POST")

	// Alerts
	router.HandleFunc("/api/alerts", alertsHandler.List).Methods("GET")
	router.HandleFunc("/api/alerts/{id}/resolve", alertsHandler.Resolve).Methods("POST")

	// Knowledge base
	router.HandleFunc("/api/knowledge", knowledgeHandler.Add).Methods("POST")
	router.HandleFunc("/api/knowledge", knowledgeHandler.List).Methods("GET")
	router.HandleFunc("/api/knowledge/url", knowledgeHandler.AddURL).Methods("POST")
	router.HandleFunc("/api/knowledge/search", knowledgeHandler.Search).Methods("POST")
	router.HandleFunc("/api/knowledge/{id}", knowledgeHandler.Delete).Methods("DELETE")

	// Storage
	router.HandleFunc("/api/storage/process", storageHandler.Process).Methods("POST")

	// Admin
	router.HandleFunc("/api/admin/watchers/init", adminHandler.InitWatchers).Methods("POST")
	router.HandleFunc("/api/admin/reindex", adminHandler.Reindex).Methods("POST")
	router.HandleFunc("/api/admin/credential", adminHandler.Credential).Methods("GET")

	if d.MCP != nil {
		router.PathPrefix("/mcp").Handler(d.MCP)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteNotFound(w, "route not found")
	})
	return router
}
