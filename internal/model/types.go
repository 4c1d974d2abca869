package model

import "time"

// Channel is the medium an interaction happened on.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelChat    Channel = "chat"
	ChannelCall    Channel = "call"
	ChannelMeeting Channel = "meeting"
	ChannelSocial  Channel = "social"
	ChannelWeb     Channel = "web"
	ChannelOther   Channel = "other"
)

// ParseChannel maps a free-form channel name onto a known Channel, defaulting to other.
func ParseChannel(s string) Channel {
	switch c := Channel(s); c {
	case ChannelEmail, ChannelChat, ChannelCall, ChannelMeeting, ChannelSocial, ChannelWeb:
		return c
	default:
		return ChannelOther
	}
}

type WorkItemStatus string

const (
	StatusPending    WorkItemStatus = "pending"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusCompleted  WorkItemStatus = "completed"
	StatusBlocked    WorkItemStatus = "blocked"
)

// Priority is shared by work items and extracted next steps.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// EntityType names the polymorphic owner of an alert.
type EntityType string

const (
	EntityInteraction EntityType = "interaction"
	EntityWorkItem    EntityType = "work_item"
	EntityContact     EntityType = "contact"
	EntityCompany     EntityType = "company"
	EntityFreshData   EntityType = "fresh_data"
)

// ContextType is the kind of record an AiContext was built from.
type ContextType string

const (
	ContextInteraction ContextType = "interaction"
	ContextWorkItem    ContextType = "work_item"
	ContextFreshData   ContextType = "fresh_data"
	ContextKnowledge   ContextType = "knowledge"
	ContextNote        ContextType = "note"
)

// ParseContextType reports whether s names a known context type.
func ParseContextType(s string) (ContextType, bool) {
	switch t := ContextType(s); t {
	case ContextInteraction, ContextWorkItem, ContextFreshData, ContextKnowledge, ContextNote:
		return t, true
	}
	return "", false
}

// Interaction is a single recorded communication with a contact or company.
type Interaction struct {
	ID           string         `json:"id"`
	Channel      Channel        `json:"channel"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Notes        string         `json:"notes"`
	Participants []string       `json:"participants"`
	Budget       *float64       `json:"budget"`
	Currency     *string        `json:"currency"`
	Requirements []string       `json:"requirements"`
	KPIs         []string       `json:"kpis"`
	Deadline     *time.Time     `json:"deadline"`
	CompanyID    string         `json:"company_id,omitempty"`
	ContactID    string         `json:"contact_id,omitempty"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// InteractionPatch carries the analysis backfill for an interaction. Nil fields are left unchanged.
type InteractionPatch struct {
	Budget       *float64
	Currency     *string
	Requirements []string
	KPIs         []string
	Deadline     *time.Time
}

// Empty reports whether the patch would change nothing.
func (p InteractionPatch) Empty() bool {
	return p.Budget == nil && p.Currency == nil && len(p.Requirements) == 0 && len(p.KPIs) == 0 && p.Deadline == nil
}

type WorkItem struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Status            WorkItemStatus `json:"status"`
	Priority          Priority       `json:"priority"`
	DueDate           *time.Time     `json:"due_date"`
	OwnerContactID    string         `json:"owner_contact_id,omitempty"`
	AssigneeContactID string         `json:"assignee_contact_id,omitempty"`
	CompanyID         string         `json:"company_id,omitempty"`
	Data              map[string]any `json:"data"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsLate reports whether the work item is past due and not completed at now.
func (w *WorkItem) IsLate(now time.Time) bool {
	if w.DueDate == nil {
		return false
	}
	return w.DueDate.Before(now) && w.Status != StatusCompleted
}

// ResponsibleContact returns the assignee, falling back to the owner.
func (w *WorkItem) ResponsibleContact() string {
	if w.AssigneeContactID != "" {
		return w.AssigneeContactID
	}
	return w.OwnerContactID
}

type Alert struct {
	ID         string         `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Severity   Severity       `json:"severity"`
	Status     AlertStatus    `json:"status"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
	CompanyID  string         `json:"company_id,omitempty"`
	ContactID  string         `json:"contact_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	Status     AlertStatus
	Severity   Severity
	EntityType EntityType
	CompanyID  string
	ContactID  string
	Limit      int
	Offset     int
}

// AlertPage is one page of alerts plus the total count matching the filter.
type AlertPage struct {
	Data  []*Alert `json:"data"`
	Count int      `json:"count"`
}

// AiContext is the searchable text form of a record. Embedding is nil when the
// embedding step failed, which excludes it from similarity search.
type AiContext struct {
	ID        string         `json:"id"`
	Type      ContextType    `json:"type"`
	SourceID  string         `json:"source_id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata"`
	CompanyID string         `json:"company_id,omitempty"`
	ContactID string         `json:"contact_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasEmbedding reports whether the context is eligible for similarity search.
func (c *AiContext) HasEmbedding() bool { return len(c.Embedding) > 0 }

// ContextMatch is a similarity search hit.
type ContextMatch struct {
	Context    *AiContext `json:"context"`
	Similarity float64    `json:"similarity"`
}

// MatchQuery parameterises a nearest-neighbour search over contexts.
type MatchQuery struct {
	Embedding []float32
	Count     int
	Type      ContextType
	CompanyID string
	ContactID string
}

// ContextFilter narrows a plain (non-semantic) context listing.
type ContextFilter struct {
	Type      ContextType
	CompanyID string
	ContactID string
	Query     string
	Limit     int
}

type Contact struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Company     string         `json:"company,omitempty"`
	CompanyID   string         `json:"company_id,omitempty"`
	Sentiment   Sentiment      `json:"sentiment,omitempty"`
	HealthScore *int           `json:"health_score,omitempty"`
	HealthNotes string         `json:"health_notes,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DisplayName returns name, then email, then id.
func (c *Contact) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	default:
		return c.ID
	}
}

type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain,omitempty"`
	Industry    string    `json:"industry,omitempty"`
	Sentiment   Sentiment `json:"sentiment,omitempty"`
	HealthScore *int      `json:"health_score,omitempty"`
	HealthNotes string    `json:"health_notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FreshData is an externally detected signal about a company.
type FreshData struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"company_id,omitempty"`
	Topic       string         `json:"topic"`
	Source      string         `json:"source"`
	SourceURL   string         `json:"source_url,omitempty"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	Tags        []string       `json:"tags"`
	Analysis    map[string]any `json:"analysis,omitempty"`
	PublishedAt *time.Time     `json:"published_at"`
	DetectedAt  *time.Time     `json:"detected_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Job is an append-only audit entry for one pipeline run.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Input     any       `json:"input_data"`
	Output    any       `json:"output_data"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	JobTypeAnalysis      = "analysis"
	JobTypeMediaAnalysis = "video_analysis"
	JobStatusCompleted   = "completed"
)

type KnowledgeEntry struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	CompanyID string         `json:"company_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CompanyID string    `json:"company_id,omitempty"`
	ContactID string    `json:"contact_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall records a tool invocation made while answering a chat turn.
type ToolCall struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Tool      string    `json:"tool"`
	Input     any       `json:"input"`
	Output    any       `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}
