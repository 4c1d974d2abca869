// Package analyzer is the pipeline core. Given a record it runs structured
// extraction (or heuristics), writes an audit job, derives work items,
// raises or resolves alerts, indexes a search context and schedules health
// recomputes. Each step commits on its own; a failing side effect is logged
// and never stops the steps after it.
package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// Extractor is the part of the model adapter the analyzer uses.
type Extractor interface {
	Available() bool
	ExtractText(ctx context.Context, in llm.TextInput) (*model.Facts, error)
}

// ContextIndexer writes search contexts for analysed records.
type ContextIndexer interface {
	IndexInteraction(ctx context.Context, in *model.Interaction, f *model.Facts) (*model.AiContext, error)
	IndexWorkItem(ctx context.Context, w *model.WorkItem, summary string) (*model.AiContext, error)
	IndexFreshData(ctx context.Context, fd *model.FreshData, analysis map[string]any) (*model.AiContext, error)
}

// AlertSink opens and resolves alerts.
type AlertSink interface {
	Upsert(ctx context.Context, r alerts.Request) (string, error)
	ResolveByEntity(ctx context.Context, entityType model.EntityType, entityID string) (int, error)
}

// HealthScheduler queues health recomputes without waiting for them.
type HealthScheduler interface {
	Company(ctx context.Context, companyID string)
	Contact(ctx context.Context, contactID string)
}

// Dispatcher schedules analysis of records the pipeline itself creates. It
// is only set when no database change feed announces those inserts.
type Dispatcher interface {
	Dispatch(ctx context.Context, table, id string)
}

type Deps struct {
	Store   store.Store
	Model   Extractor
	Indexer ContextIndexer
	Alerts  AlertSink
	Health  HealthScheduler
}

// Output is the result of analysing one record.
type Output struct {
	Type               Kind         `json:"type"`
	ID                 string       `json:"id,omitempty"`
	Summary            string       `json:"summary"`
	Unsupported        bool         `json:"unsupported,omitempty"`
	Method             string       `json:"analysis_method,omitempty"`
	Facts              *model.Facts `json:"facts,omitempty"`
	IsLate             *bool        `json:"is_late,omitempty"`
	GeneratedWorkItems []string     `json:"generated_work_items,omitempty"`
	AlertID            string       `json:"alert_id,omitempty"`
	AlertsResolved     int          `json:"alerts_resolved,omitempty"`
	ContextID          string       `json:"context_id,omitempty"`
	LinkedCompanyID    string       `json:"linked_company_id,omitempty"`
	ModelError         string       `json:"model_error,omitempty"`
}

const (
	MethodModel     = "gemini"
	MethodHeuristic = "heuristic"
)

type Analyzer struct {
	store    store.Store
	model    Extractor
	indexer  ContextIndexer
	alerts   AlertSink
	health   HealthScheduler
	dispatch Dispatcher
	now      func() time.Time
	log      zerolog.Logger
}

func New(d Deps, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		store:   d.Store,
		model:   d.Model,
		indexer: d.Indexer,
		alerts:  d.Alerts,
		health:  d.Health,
		now:     time.Now,
		log:     log.With().Str("component", "analyzer").Logger(),
	}
}

// WithDispatcher makes derived work items schedule their own analysis.
func (a *Analyzer) WithDispatcher(d Dispatcher) *Analyzer {
	a.dispatch = d
	return a
}

// Analyze runs the pipeline for rec. Unsupported records return a
// passthrough output and no error.
//
// The returned error is non-nil only when the source record itself could
// not be updated, or when the model rejected its credential. In both cases
// the output still reflects every step that ran.
func (a *Analyzer) Analyze(ctx context.Context, rec Record) (*Output, error) {
	start := time.Now()
	var (
		out *Output
		err error
	)
	switch r := rec.(type) {
	case InteractionRecord:
		out, err = a.analyzeInteraction(ctx, r.Row)
	case WorkItemRecord:
		out = a.analyzeWorkItem(ctx, r.Row)
	case ContactRecord:
		out = a.analyzeContact(ctx, r.Row)
	case FreshDataRecord:
		out = a.analyzeFreshData(ctx, r.Row)
	default:
		out = &Output{Type: rec.Kind(), ID: rec.RecordID(), Summary: "Tipo no soportado", Unsupported: true}
	}
	observe(out.Type, start, out, err)
	return out, err
}

// AnalyzeByID loads table/id and analyses it.
func (a *Analyzer) AnalyzeByID(ctx context.Context, table, id string) (*Output, error) {
	rec, err := Load(ctx, a.store, table, id)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, rec)
}

func (a *Analyzer) appendJob(ctx context.Context, input, output any) {
	_, err := a.store.Jobs().Append(ctx, &model.Job{
		Type:   model.JobTypeAnalysis,
		Status: model.JobStatusCompleted,
		Input:  input,
		Output: output,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("audit job not written")
	}
}

// alert opens an alert or resolves existing ones depending on raise.
func (a *Analyzer) alert(ctx context.Context, out *Output, raise bool, req alerts.Request) {
	if raise {
		id, err := a.alerts.Upsert(ctx, req)
		if err != nil {
			a.log.Error().Err(err).Str("entity_type", string(req.EntityType)).Str("entity_id", req.EntityID).Msg("alert upsert failed")
			return
		}
		out.AlertID = id
		return
	}
	n, err := a.alerts.ResolveByEntity(ctx, req.EntityType, req.EntityID)
	if err != nil {
		a.log.Warn().Err(err).Str("entity_type", string(req.EntityType)).Str("entity_id", req.EntityID).Msg("alert resolve failed")
		return
	}
	out.AlertsResolved = n
}

func (a *Analyzer) indexed(out *Output, c *model.AiContext, err error, id string) {
	if err != nil {
		a.log.Error().Err(err).Str("type", string(out.Type)).Str("id", id).Msg("context indexing failed")
		return
	}
	if c != nil {
		out.ContextID = c.ID
	}
}

func modelErrorText(err error) string {
	switch {
	case errors.Is(err, llm.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, llm.ErrParse):
		return "parse_error"
	default:
		var te *llm.TransientError
		if errors.As(err, &te) {
			return "model_unavailable"
		}
		return "model_error"
	}
}
