package store

import (
	"context"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// Store exposes persistence operations required by the pipeline and services.
// Implementations live under internal/store/<driver>/ (postgres, memstore).
// Every method commits on its own; no transaction spans two calls.
type Store interface {
	Interactions() Interactions
	WorkItems() WorkItems
	Alerts() Alerts
	Contexts() Contexts
	Contacts() Contacts
	Companies() Companies
	FreshData() FreshData
	Jobs() Jobs
	Knowledge() Knowledge
	Chat() Chat
	Close() error
}

// Scope selects records belonging to a company or a contact. Exactly one of
// the fields is expected to be set.
type Scope struct {
	CompanyID string
	ContactID string
}

// ListOptions bounds a listing. Zero Limit means the implementation default.
// ContactID is honoured by interactions (contact_id) and work items (owner or
// assignee); other listings ignore it.
type ListOptions struct {
	CompanyID string
	ContactID string
	Limit     int
	Offset    int
}

type Interactions interface {
	Create(ctx context.Context, in *model.Interaction) (*model.Interaction, error)
	Get(ctx context.Context, id string) (*model.Interaction, error)
	// List returns interactions ordered by occurred_at, newest first.
	List(ctx context.Context, opts ListOptions) ([]*model.Interaction, error)
	ApplyAnalysis(ctx context.Context, id string, patch model.InteractionPatch) error
	CountSince(ctx context.Context, scope Scope, since time.Time) (int, error)
	// LastOccurredAt returns the newest occurred_at in scope at or after since
	// (zero since means unbounded), or nil when there is none.
	LastOccurredAt(ctx context.Context, scope Scope, since time.Time) (*time.Time, error)
	CountWithBudget(ctx context.Context, companyID string) (int, error)
}

type WorkItems interface {
	Create(ctx context.Context, w *model.WorkItem) (*model.WorkItem, error)
	Get(ctx context.Context, id string) (*model.WorkItem, error)
	// List returns work items ordered by updated_at, newest first.
	List(ctx context.Context, opts ListOptions) ([]*model.WorkItem, error)
	// FindBySource returns a work item derived from the given interaction with the given title.
	FindBySource(ctx context.Context, interactionID, title string) (*model.WorkItem, error)
	CountOverdue(ctx context.Context, companyID string, now time.Time) (int, error)
	CountOpenAssigned(ctx context.Context, contactID string) (int, error)
	// ListOverdueSince returns non-completed items whose due_date fell in [from, to).
	ListOverdueSince(ctx context.Context, from, to time.Time, limit int) ([]*model.WorkItem, error)
}

type Alerts interface {
	FindOpen(ctx context.Context, entityType model.EntityType, entityID string) (*model.Alert, error)
	// Insert creates an open alert. It returns model.ErrConflict when an open
	// alert already exists for the same entity.
	Insert(ctx context.Context, a *model.Alert) (*model.Alert, error)
	// UpdateOpen rewrites severity, message, data and references of an alert in place.
	UpdateOpen(ctx context.Context, a *model.Alert) error
	ResolveByEntity(ctx context.Context, entityType model.EntityType, entityID string, at time.Time) (int, error)
	ResolveByID(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*model.Alert, error)
	List(ctx context.Context, f model.AlertFilter) (*model.AlertPage, error)
	CountOpen(ctx context.Context, scope Scope) (int, error)
}

type Contexts interface {
	// Upsert inserts or fully replaces the context keyed by (type, source_id).
	Upsert(ctx context.Context, c *model.AiContext) (*model.AiContext, error)
	Get(ctx context.Context, typ model.ContextType, sourceID string) (*model.AiContext, error)
	// Match runs the nearest-neighbour procedure. Contexts without an embedding never match.
	Match(ctx context.Context, q model.MatchQuery) ([]model.ContextMatch, error)
	List(ctx context.Context, f model.ContextFilter) ([]*model.AiContext, error)
	// Delete removes a context by its own id.
	Delete(ctx context.Context, id string) error
}

type Contacts interface {
	Create(ctx context.Context, c *model.Contact) (*model.Contact, error)
	Get(ctx context.Context, id string) (*model.Contact, error)
	FindByEmail(ctx context.Context, email string) (*model.Contact, error)
	FindByName(ctx context.Context, name string) (*model.Contact, error)
	List(ctx context.Context, opts ListOptions) ([]*model.Contact, error)
	Touch(ctx context.Context, id string, sentiment model.Sentiment, at time.Time) error
	LinkCompany(ctx context.Context, id, companyID string) error
	UpdateHealth(ctx context.Context, id string, score int, notes string) error
}

type Companies interface {
	Create(ctx context.Context, c *model.Company) (*model.Company, error)
	Get(ctx context.Context, id string) (*model.Company, error)
	FindByName(ctx context.Context, name string) (*model.Company, error)
	// List returns companies ordered by name.
	List(ctx context.Context, opts ListOptions) ([]*model.Company, error)
	UpdateHealth(ctx context.Context, id string, score int, notes string) error
}

type FreshData interface {
	Create(ctx context.Context, f *model.FreshData) (*model.FreshData, error)
	Get(ctx context.Context, id string) (*model.FreshData, error)
	// List returns signals ordered by published_at, newest first.
	List(ctx context.Context, opts ListOptions) ([]*model.FreshData, error)
}

// Jobs is the append-only analysis audit log.
type Jobs interface {
	Append(ctx context.Context, j *model.Job) (*model.Job, error)
	List(ctx context.Context, limit int) ([]*model.Job, error)
}

type Knowledge interface {
	Create(ctx context.Context, e *model.KnowledgeEntry) (*model.KnowledgeEntry, error)
	Get(ctx context.Context, id string) (*model.KnowledgeEntry, error)
	List(ctx context.Context, opts ListOptions) ([]*model.KnowledgeEntry, error)
	Delete(ctx context.Context, id string) error
	// Search is a case-insensitive substring scan over title and content.
	Search(ctx context.Context, query, companyID string, limit int) ([]*model.KnowledgeEntry, error)
}

type Chat interface {
	CreateSession(ctx context.Context, s *model.ChatSession) (*model.ChatSession, error)
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	AppendMessage(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error)
	// ListMessages returns the newest limit messages in chronological order.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*model.ChatMessage, error)
	LogToolCall(ctx context.Context, c *model.ToolCall) error
}
