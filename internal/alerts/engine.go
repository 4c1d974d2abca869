// Package alerts keeps at most one open alert per (entity type, entity id).
package alerts

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	lockStripes  = 64
	defaultLimit = 50
)

// Request describes the alert to open or refresh for an entity.
type Request struct {
	EntityType model.EntityType
	EntityID   string
	Severity   model.Severity
	Message    string
	CompanyID  string
	ContactID  string
	Data       map[string]any
}

// Engine serialises find-then-act per entity inside the process. Across
// processes the store's partial unique index on open alerts is the backstop:
// a conflicting insert is turned into an update of the winner's row.
type Engine struct {
	alerts store.Alerts
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
	log    zerolog.Logger
}

func New(alerts store.Alerts, log zerolog.Logger) *Engine {
	return &Engine{
		alerts: alerts,
		now:    time.Now,
		log:    log.With().Str("component", "alerts").Logger(),
	}
}

func (e *Engine) lockFor(entityType model.EntityType, entityID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(entityType) + ":" + entityID))
	return &e.locks[h.Sum32()%lockStripes]
}

// Upsert opens an alert for the entity, or updates the open one in place,
// and returns its id.
func (e *Engine) Upsert(ctx context.Context, r Request) (string, error) {
	if r.EntityType == "" || r.EntityID == "" {
		return "", fmt.Errorf("%w: entity type and entity id are required", model.ErrValidation)
	}
	if r.Severity == "" {
		r.Severity = model.SeverityMedium
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}

	mu := e.lockFor(r.EntityType, r.EntityID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := e.alerts.FindOpen(ctx, r.EntityType, r.EntityID)
	switch {
	case err == nil:
		return e.update(ctx, existing.ID, r)
	case !errors.Is(err, model.ErrNotFound):
		return "", fmt.Errorf("find open alert: %w", err)
	}

	inserted, err := e.alerts.Insert(ctx, &model.Alert{
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Severity:   r.Severity,
		Message:    r.Message,
		Data:       r.Data,
		CompanyID:  r.CompanyID,
		ContactID:  r.ContactID,
	})
	if err == nil {
		alertsOpened.WithLabelValues(string(r.EntityType), string(r.Severity)).Inc()
		return inserted.ID, nil
	}
	if !errors.Is(err, model.ErrConflict) {
		return "", fmt.Errorf("insert alert: %w", err)
	}

	// Another writer opened one between our find and insert.
	e.log.Debug().Str("entity_type", string(r.EntityType)).Str("entity_id", r.EntityID).Msg("open alert raced, updating winner")
	existing, err = e.alerts.FindOpen(ctx, r.EntityType, r.EntityID)
	if err != nil {
		return "", fmt.Errorf("find open alert after conflict: %w", err)
	}
	return e.update(ctx, existing.ID, r)
}

func (e *Engine) update(ctx context.Context, id string, r Request) (string, error) {
	err := e.alerts.UpdateOpen(ctx, &model.Alert{
		ID:        id,
		Severity:  r.Severity,
		Message:   r.Message,
		Data:      r.Data,
		CompanyID: r.CompanyID,
		ContactID: r.ContactID,
	})
	if err != nil {
		return "", fmt.Errorf("update alert %s: %w", id, err)
	}
	return id, nil
}

// ResolveByEntity closes every open alert of the entity and reports how many.
func (e *Engine) ResolveByEntity(ctx context.Context, entityType model.EntityType, entityID string) (int, error) {
	mu := e.lockFor(entityType, entityID)
	mu.Lock()
	defer mu.Unlock()

	n, err := e.alerts.ResolveByEntity(ctx, entityType, entityID, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("resolve alerts for %s %s: %w", entityType, entityID, err)
	}
	if n > 0 {
		alertsResolved.WithLabelValues(string(entityType)).Add(float64(n))
	}
	return n, nil
}

func (e *Engine) ResolveByID(ctx context.Context, id string) error {
	if err := e.alerts.ResolveByID(ctx, id, e.now().UTC()); err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	alertsResolved.WithLabelValues("manual").Inc()
	return nil
}

func (e *Engine) Get(ctx context.Context, id string) (*model.Alert, error) {
	return e.alerts.Get(ctx, id)
}

// List pages through alerts, newest first. Limit defaults to 50.
func (e *Engine) List(ctx context.Context, f model.AlertFilter) (*model.AlertPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.alerts.List(ctx, f)
}

// InteractionSeverity maps analysis outcome to alert severity.
func InteractionSeverity(urgency model.Urgency, sentiment model.Sentiment) model.Severity {
	switch {
	case urgency == model.UrgencyCritical:
		return model.SeverityCritical
	case urgency == model.UrgencyHigh || sentiment == model.SentimentNegative:
		return model.SeverityHigh
	default:
		return model.SeverityMedium
	}
}

// WorkItemSeverity maps a late work item's priority to alert severity.
func WorkItemSeverity(p model.Priority) model.Severity {
	if p == model.PriorityHigh || p == model.PriorityCritical {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}
