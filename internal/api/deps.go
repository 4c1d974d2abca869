// Package api is the thin HTTP surface over the CRM services. Handlers
// decode, call one service method and map its error onto a status code.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/crm"
	"github.com/moctezuma-dev/zappy-back/internal/health"
	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/knowledge"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/reindex"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
	"github.com/moctezuma-dev/zappy-back/internal/storagewatch"
)

type HealthReporter interface {
	IsHealthy() bool
	Status() health.Status
}

type Ingester interface {
	IngestEmail(ctx context.Context, p *ingest.EmailPayload) (*ingest.Result, error)
	IngestRawEmail(ctx context.Context, r io.Reader, company string) (*ingest.Result, error)
	IngestSlack(ctx context.Context, p *ingest.SlackPayload) (*ingest.Result, error)
	IngestWhatsApp(ctx context.Context, p *ingest.WhatsAppPayload) (*ingest.Result, error)
	AddNote(ctx context.Context, n *ingest.Note) (*model.Interaction, error)
}

type ManualAnalyzer interface {
	TriggerManual(ctx context.Context, req analyzer.ManualRequest) (int, error)
}

type Retriever interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Result, error)
	Contexts(ctx context.Context, f model.ContextFilter) ([]*model.AiContext, error)
	Chat(ctx context.Context, req retrieval.ChatRequest) (*retrieval.ChatResponse, error)
	History(ctx context.Context, sessionID string, limit int) ([]*model.ChatMessage, error)
}

type KnowledgeBase interface {
	Add(ctx context.Context, req knowledge.AddRequest) ([]*model.KnowledgeEntry, error)
	AddFromURL(ctx context.Context, req knowledge.URLRequest) ([]*model.KnowledgeEntry, error)
	Search(ctx context.Context, query, companyID string, limit int) ([]knowledge.Hit, error)
	List(ctx context.Context, req knowledge.ListRequest) ([]*model.KnowledgeEntry, error)
	Delete(ctx context.Context, id string) error
}

type CRMViews interface {
	CompanyOverview(ctx context.Context, companyID string, opts crm.OverviewOptions) (*crm.CompanyOverview, error)
	ContactOverview(ctx context.Context, contactID string, opts crm.OverviewOptions) (*crm.ContactOverview, error)
	Timeline(ctx context.Context, q crm.TimelineQuery) ([]crm.TimelineEntry, error)
	Contacts(ctx context.Context, q crm.ListQuery) ([]*model.Contact, error)
	Companies(ctx context.Context, q crm.ListQuery) ([]*model.Company, error)
	Interactions(ctx context.Context, q crm.ListQuery) ([]*model.Interaction, error)
	WorkItems(ctx context.Context, q crm.ListQuery) ([]*model.WorkItem, error)
	FreshData(ctx context.Context, q crm.ListQuery) ([]*model.FreshData, error)
	CreateWorkItem(ctx context.Context, req crm.WorkItemRequest) (*model.WorkItem, error)
	DeleteContext(ctx context.Context, id string) error
}

type MediaStore interface {
	Bucket() string
	Store(ctx context.Context, up storagewatch.Upload, sched storagewatch.Scheduler) (*storagewatch.UploadResult, error)
	ProcessFile(ctx context.Context, bucket, path string) (*ingest.Result, error)
}

type Resubscriber interface {
	Resubscribe()
	Subscribed() bool
}

type Reindexer interface {
	Run(ctx context.Context, target reindex.Target, opts reindex.Options) (reindex.Result, error)
}

type CredentialValidator interface {
	ValidateCredential(ctx context.Context) llm.CredentialStatus
}

// Deps wires services into the router. Nil optional services make their
// routes answer 503.
type Deps struct {
	Health      HealthReporter
	Ingest      Ingester
	Analyzer    ManualAnalyzer
	Retrieval   Retriever
	Alerts      retrieval.AlertService
	Knowledge   KnowledgeBase
	CRM         CRMViews
	Media       MediaStore
	Background  storagewatch.Scheduler
	Realtime    Resubscriber
	Reindex     Reindexer
	Credentials CredentialValidator
	MCP         http.Handler
	Log         zerolog.Logger
}
