// Package crm serves the read views over the CRM tables (company and contact
// overviews, the activity timeline, plain listings) and the manual write paths
// into the pipeline: creating work items and deleting search contexts.
package crm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// Dispatcher schedules analysis of a newly written record. It is only set
// when no database change feed announces inserts.
type Dispatcher interface {
	Dispatch(ctx context.Context, table, id string)
}

const (
	defaultSectionLimit = 5
	overviewContacts    = 20
	overviewFreshData   = 10
	overviewAlerts      = 20
	// aggregateScan bounds the rows read to build pipeline and status totals.
	aggregateScan   = 500
	defaultTimeline = 50
	maxTimeline     = 200
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s es requerido", model.ErrValidation, fe.Field())
	case "oneof":
		return fmt.Errorf("%w: %s debe ser uno de %s", model.ErrValidation, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s inválido", model.ErrValidation, fe.Field())
	}
}

type Service struct {
	store    store.Store
	dispatch Dispatcher
	log      zerolog.Logger
}

func New(st store.Store, log zerolog.Logger) *Service {
	return &Service{
		store: st,
		log:   log.With().Str("component", "crm").Logger(),
	}
}

// WithDispatcher makes created work items schedule their own analysis.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.dispatch = d
	return s
}

// OverviewOptions sizes the interaction and work item sections. Zero means 5.
type OverviewOptions struct {
	InteractionsLimit int
	WorkItemsLimit    int
}

func (o OverviewOptions) withDefaults() OverviewOptions {
	if o.InteractionsLimit <= 0 {
		o.InteractionsLimit = defaultSectionLimit
	}
	if o.WorkItemsLimit <= 0 {
		o.WorkItemsLimit = defaultSectionLimit
	}
	return o
}

// Pipeline sums the budgets extracted from interactions.
type Pipeline struct {
	TotalBudget float64 `json:"total_budget"`
	AvgBudget   float64 `json:"avg_budget"`
	DealsCount  int     `json:"deals_count"`
}

type CompanyOverview struct {
	Company          *model.Company               `json:"company"`
	Contacts         []*model.Contact             `json:"contacts"`
	WorkItems        []*model.WorkItem            `json:"work_items"`
	Interactions     []*model.Interaction         `json:"interactions"`
	FreshData        []*model.FreshData           `json:"fresh_data"`
	OpenAlerts       []*model.Alert               `json:"open_alerts"`
	Pipeline         Pipeline                     `json:"pipeline"`
	ContactSentiment map[model.Sentiment]int      `json:"contact_sentiment"`
	WorkItemsStatus  map[model.WorkItemStatus]int `json:"work_items_status"`
}

type ContactOverview struct {
	Contact         *model.Contact               `json:"contact"`
	Company         *model.Company               `json:"company,omitempty"`
	Interactions    []*model.Interaction         `json:"interactions"`
	WorkItems       []*model.WorkItem            `json:"work_items"`
	FreshData       []*model.FreshData           `json:"fresh_data"`
	OpenAlerts      []*model.Alert               `json:"open_alerts"`
	Pipeline        Pipeline                     `json:"pipeline"`
	WorkItemsStatus map[model.WorkItemStatus]int `json:"work_items_status"`
}

// CompanyOverview gathers what is known about one company: its health score
// and notes, contacts, open work, recent interactions, signals and open alerts.
func (s *Service) CompanyOverview(ctx context.Context, companyID string, opts OverviewOptions) (*CompanyOverview, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyId es requerido", model.ErrValidation)
	}
	opts = opts.withDefaults()
	co, err := s.store.Companies().Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := &CompanyOverview{Company: co}

	if out.Contacts, err = s.store.Contacts().List(ctx, store.ListOptions{CompanyID: companyID, Limit: overviewContacts}); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	out.ContactSentiment = map[model.Sentiment]int{}
	for _, c := range out.Contacts {
		if c.Sentiment != "" {
			out.ContactSentiment[c.Sentiment]++
		}
	}

	scope := store.ListOptions{CompanyID: companyID}
	if out.WorkItems, out.WorkItemsStatus, err = s.workItemSection(ctx, scope, opts.WorkItemsLimit); err != nil {
		return nil, err
	}
	if out.Interactions, out.Pipeline, err = s.interactionSection(ctx, scope, opts.InteractionsLimit); err != nil {
		return nil, err
	}
	if out.FreshData, err = s.store.FreshData().List(ctx, store.ListOptions{CompanyID: companyID, Limit: overviewFreshData}); err != nil {
		return nil, fmt.Errorf("list fresh data: %w", err)
	}
	if out.OpenAlerts, err = s.openAlerts(ctx, model.AlertFilter{CompanyID: companyID}); err != nil {
		return nil, err
	}
	return out, nil
}

// ContactOverview gathers one contact with its company, interactions, the
// work items it owns or is assigned, company signals and open alerts.
func (s *Service) ContactOverview(ctx context.Context, contactID string, opts OverviewOptions) (*ContactOverview, error) {
	if contactID == "" {
		return nil, fmt.Errorf("%w: contactId es requerido", model.ErrValidation)
	}
	opts = opts.withDefaults()
	c, err := s.store.Contacts().Get(ctx, contactID)
	if err != nil {
		return nil, err
	}
	out := &ContactOverview{Contact: c, FreshData: []*model.FreshData{}}

	if c.CompanyID != "" {
		co, err := s.store.Companies().Get(ctx, c.CompanyID)
		switch {
		case err == nil:
			out.Company = co
			if out.FreshData, err = s.store.FreshData().List(ctx, store.ListOptions{CompanyID: co.ID, Limit: defaultSectionLimit}); err != nil {
				return nil, fmt.Errorf("list fresh data: %w", err)
			}
		case !errors.Is(err, model.ErrNotFound):
			return nil, fmt.Errorf("get company: %w", err)
		}
	}

	scope := store.ListOptions{ContactID: contactID}
	if out.Interactions, out.Pipeline, err = s.interactionSection(ctx, scope, opts.InteractionsLimit); err != nil {
		return nil, err
	}
	if out.WorkItems, out.WorkItemsStatus, err = s.workItemSection(ctx, scope, opts.WorkItemsLimit); err != nil {
		return nil, err
	}
	if out.OpenAlerts, err = s.openAlerts(ctx, model.AlertFilter{ContactID: contactID}); err != nil {
		return nil, err
	}
	return out, nil
}

// interactionSection returns the newest limit interactions in scope and the
// budget pipeline over the newest aggregateScan of them.
func (s *Service) interactionSection(ctx context.Context, scope store.ListOptions, limit int) ([]*model.Interaction, Pipeline, error) {
	scope.Limit = aggregateScan
	all, err := s.store.Interactions().List(ctx, scope)
	if err != nil {
		return nil, Pipeline{}, fmt.Errorf("list interactions: %w", err)
	}
	var p Pipeline
	for _, in := range all {
		if in.Budget != nil {
			p.TotalBudget += *in.Budget
			p.DealsCount++
		}
	}
	if p.DealsCount > 0 {
		p.AvgBudget = p.TotalBudget / float64(p.DealsCount)
	}
	return head(all, limit), p, nil
}

// workItemSection returns open work first, earliest due date first, plus a
// count per status.
func (s *Service) workItemSection(ctx context.Context, scope store.ListOptions, limit int) ([]*model.WorkItem, map[model.WorkItemStatus]int, error) {
	scope.Limit = aggregateScan
	all, err := s.store.WorkItems().List(ctx, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("list work items: %w", err)
	}
	status := map[model.WorkItemStatus]int{}
	for _, w := range all {
		status[w.Status]++
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if ca, cb := a.Status == model.StatusCompleted, b.Status == model.StatusCompleted; ca != cb {
			return cb
		}
		switch {
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		default:
			return a.DueDate.Before(*b.DueDate)
		}
	})
	return head(all, limit), status, nil
}

func (s *Service) openAlerts(ctx context.Context, f model.AlertFilter) ([]*model.Alert, error) {
	f.Status = model.AlertOpen
	f.Limit = overviewAlerts
	page, err := s.store.Alerts().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if page.Data == nil {
		return []*model.Alert{}, nil
	}
	return page.Data, nil
}

func head[T any](xs []T, n int) []T {
	if xs == nil {
		return []T{}
	}
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

// WorkItemRequest is a manually created work item.
type WorkItemRequest struct {
	Title             string         `json:"title" validate:"required"`
	Description       string         `json:"description,omitempty"`
	CompanyID         string         `json:"companyId,omitempty"`
	OwnerContactID    string         `json:"ownerContactId,omitempty"`
	AssigneeContactID string         `json:"assigneeContactId,omitempty"`
	DueDate           string         `json:"dueDate,omitempty"`
	Priority          model.Priority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Data              map[string]any `json:"data,omitempty"`
}

// CreateWorkItem stores a pending work item and, without a change feed,
// dispatches it to analysis so lateness alerts and its context follow.
func (s *Service) CreateWorkItem(ctx context.Context, req WorkItemRequest) (*model.WorkItem, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	w := &model.WorkItem{
		Title:             req.Title,
		Description:       req.Description,
		Status:            model.StatusPending,
		Priority:          req.Priority,
		CompanyID:         req.CompanyID,
		OwnerContactID:    req.OwnerContactID,
		AssigneeContactID: req.AssigneeContactID,
		Data:              req.Data,
	}
	if w.Priority == "" {
		w.Priority = model.PriorityMedium
	}
	if w.Data == nil {
		w.Data = map[string]any{}
	}
	if req.DueDate != "" {
		due, ok := model.ParseDate(req.DueDate)
		if !ok {
			return nil, fmt.Errorf("%w: dueDate inválida", model.ErrValidation)
		}
		w.DueDate = &due
	}

	created, err := s.store.WorkItems().Create(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}
	workItemsCreated.Inc()
	s.log.Info().Str("work_item_id", created.ID).Str("company_id", created.CompanyID).Msg("work item created")
	if s.dispatch != nil {
		s.dispatch.Dispatch(ctx, "work_items", created.ID)
	}
	return created, nil
}

// DeleteContext removes one search context. The source record is untouched
// and a later analysis of it writes the context again.
func (s *Service) DeleteContext(ctx context.Context, id string) error {
	if err := s.store.Contexts().Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("context_id", id).Msg("context deleted")
	return nil
}
