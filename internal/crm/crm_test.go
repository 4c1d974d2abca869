package crm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
)

type recordedDispatch struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordedDispatch) Dispatch(_ context.Context, table, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, table+":"+id)
}

type fixture struct {
	ms      *memstore.Store
	svc     *Service
	company *model.Company
	ana     *model.Contact
	luis    *model.Contact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := memstore.New()
	co, err := ms.Companies().Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)
	ana, err := ms.Contacts().Create(ctx, &model.Contact{Name: "Ana", CompanyID: co.ID, Sentiment: model.SentimentPositive})
	require.NoError(t, err)
	luis, err := ms.Contacts().Create(ctx, &model.Contact{Name: "Luis", CompanyID: co.ID})
	require.NoError(t, err)
	return &fixture{ms: ms, svc: New(ms, zerolog.Nop()), company: co, ana: ana, luis: luis}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) interaction(t *testing.T, contact *model.Contact, notes string, budget *float64, at time.Time) *model.Interaction {
	t.Helper()
	in, err := f.ms.Interactions().Create(context.Background(), &model.Interaction{
		Channel:    "email",
		Notes:      notes,
		Budget:     budget,
		OccurredAt: at,
		CompanyID:  contact.CompanyID,
		ContactID:  contact.ID,
	})
	require.NoError(t, err)
	return in
}

func (f *fixture) workItem(t *testing.T, w *model.WorkItem) *model.WorkItem {
	t.Helper()
	if w.CompanyID == "" {
		w.CompanyID = f.company.ID
	}
	if w.Priority == "" {
		w.Priority = model.PriorityMedium
	}
	out, err := f.ms.WorkItems().Create(context.Background(), w)
	require.NoError(t, err)
	return out
}

func TestCompanyOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.interaction(t, f.ana, "propuesta inicial", ptr(100.0), base)
	f.interaction(t, f.luis, "seguimiento", nil, base.Add(time.Hour))
	last := f.interaction(t, f.ana, "cierre", ptr(300.0), base.Add(2*time.Hour))

	done := f.workItem(t, &model.WorkItem{Title: "kickoff", Status: model.StatusCompleted, DueDate: ptr(base.Add(-48 * time.Hour))})
	undated := f.workItem(t, &model.WorkItem{Title: "revisar", Status: model.StatusPending})
	soon := f.workItem(t, &model.WorkItem{Title: "enviar contrato", Status: model.StatusInProgress, DueDate: ptr(base.Add(24 * time.Hour))})

	_, err := f.ms.Alerts().Insert(ctx, &model.Alert{
		EntityType: model.EntityCompany,
		EntityID:   f.company.ID,
		Severity:   model.SeverityHigh,
		Status:     model.AlertOpen,
		Message:    "riesgo",
		CompanyID:  f.company.ID,
	})
	require.NoError(t, err)

	ov, err := f.svc.CompanyOverview(ctx, f.company.ID, OverviewOptions{InteractionsLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, f.company.ID, ov.Company.ID)
	assert.Len(t, ov.Contacts, 2)
	assert.Equal(t, map[model.Sentiment]int{model.SentimentPositive: 1}, ov.ContactSentiment)

	require.Len(t, ov.Interactions, 2)
	assert.Equal(t, last.ID, ov.Interactions[0].ID)
	assert.Equal(t, Pipeline{TotalBudget: 400, AvgBudget: 200, DealsCount: 2}, ov.Pipeline)

	require.Len(t, ov.WorkItems, 3)
	assert.Equal(t, []string{soon.ID, undated.ID, done.ID}, []string{ov.WorkItems[0].ID, ov.WorkItems[1].ID, ov.WorkItems[2].ID})
	assert.Equal(t, map[model.WorkItemStatus]int{
		model.StatusCompleted:  1,
		model.StatusPending:    1,
		model.StatusInProgress: 1,
	}, ov.WorkItemsStatus)

	require.Len(t, ov.OpenAlerts, 1)
	assert.Equal(t, "riesgo", ov.OpenAlerts[0].Message)
	assert.NotNil(t, ov.FreshData)
}

func TestCompanyOverview_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CompanyOverview(ctx, "", OverviewOptions{})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.svc.CompanyOverview(ctx, "missing", OverviewOptions{})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestContactOverview_OwnedAndAssignedWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mine := f.interaction(t, f.ana, "llamada", ptr(50.0), base)
	f.interaction(t, f.luis, "otra llamada", ptr(999.0), base)

	owned := f.workItem(t, &model.WorkItem{Title: "a", Status: model.StatusPending, OwnerContactID: f.ana.ID})
	assigned := f.workItem(t, &model.WorkItem{Title: "b", Status: model.StatusBlocked, AssigneeContactID: f.ana.ID})
	f.workItem(t, &model.WorkItem{Title: "c", Status: model.StatusPending, OwnerContactID: f.luis.ID})

	_, err := f.ms.FreshData().Create(ctx, &model.FreshData{CompanyID: f.company.ID, Topic: "funding", Title: "Serie A"})
	require.NoError(t, err)

	ov, err := f.svc.ContactOverview(ctx, f.ana.ID, OverviewOptions{})
	require.NoError(t, err)

	assert.Equal(t, f.ana.ID, ov.Contact.ID)
	require.NotNil(t, ov.Company)
	assert.Equal(t, f.company.ID, ov.Company.ID)

	require.Len(t, ov.Interactions, 1)
	assert.Equal(t, mine.ID, ov.Interactions[0].ID)
	assert.Equal(t, Pipeline{TotalBudget: 50, AvgBudget: 50, DealsCount: 1}, ov.Pipeline)

	var ids []string
	for _, w := range ov.WorkItems {
		ids = append(ids, w.ID)
	}
	assert.ElementsMatch(t, []string{owned.ID, assigned.ID}, ids)
	assert.Len(t, ov.FreshData, 1)
	assert.Empty(t, ov.OpenAlerts)
}

func TestContactOverview_WithoutCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	solo, err := f.ms.Contacts().Create(ctx, &model.Contact{Name: "Solo"})
	require.NoError(t, err)

	ov, err := f.svc.ContactOverview(ctx, solo.ID, OverviewOptions{})
	require.NoError(t, err)
	assert.Nil(t, ov.Company)
	assert.Empty(t, ov.FreshData)
	assert.Empty(t, ov.WorkItems)

	_, err = f.svc.ContactOverview(ctx, "missing", OverviewOptions{})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestTimeline_MergesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.interaction(t, f.ana, "antigua", nil, base.Add(-72*time.Hour))
	f.workItem(t, &model.WorkItem{Title: "tarea", Status: model.StatusPending})
	detected := base.Add(-24 * time.Hour)
	_, err := f.ms.FreshData().Create(ctx, &model.FreshData{CompanyID: f.company.ID, Title: "noticia", DetectedAt: &detected})
	require.NoError(t, err)

	entries, err := f.svc.Timeline(ctx, TimelineQuery{CompanyID: f.company.ID})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].At.After(entries[i-1].At), "entry %d out of order", i)
	}
	assert.Equal(t, EntryInteraction, entries[2].Type)
	assert.Equal(t, EntryFreshData, entries[1].Type)
}

func TestTimeline_LimitAndContactScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.interaction(t, f.ana, fmt.Sprintf("n%d", i), nil, base.Add(time.Duration(i)*time.Hour))
	}
	f.interaction(t, f.luis, "ajena", nil, base.Add(10*time.Hour))

	entries, err := f.svc.Timeline(ctx, TimelineQuery{ContactID: f.ana.ID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, f.ana.ID, e.ContactID)
	}
	assert.Equal(t, "n4", entries[0].Summary)
}

func TestCreateWorkItem(t *testing.T) {
	f := newFixture(t)
	rec := &recordedDispatch{}
	f.svc.WithDispatcher(rec)
	ctx := context.Background()

	w, err := f.svc.CreateWorkItem(ctx, WorkItemRequest{
		Title:     "  Enviar propuesta  ",
		CompanyID: f.company.ID,
		DueDate:   "2025-04-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "Enviar propuesta", w.Title)
	assert.Equal(t, model.StatusPending, w.Status)
	assert.Equal(t, model.PriorityMedium, w.Priority)
	require.NotNil(t, w.DueDate)
	assert.Equal(t, 2025, w.DueDate.Year())
	assert.Equal(t, []string{"work_items:" + w.ID}, rec.calls)

	stored, err := f.ms.WorkItems().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Title, stored.Title)
}

func TestCreateWorkItem_Validation(t *testing.T) {
	f := newFixture(t)
	rec := &recordedDispatch{}
	f.svc.WithDispatcher(rec)

	tests := []struct {
		name string
		req  WorkItemRequest
		msg  string
	}{
		{name: "blank title", req: WorkItemRequest{Title: "   "}, msg: "title es requerido"},
		{name: "unknown priority", req: WorkItemRequest{Title: "x", Priority: "urgent"}, msg: "priority"},
		{name: "bad due date", req: WorkItemRequest{Title: "x", DueDate: "mañana"}, msg: "dueDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateWorkItem(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	assert.Empty(t, rec.calls)
}

func TestDeleteContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.ms.Contexts().Upsert(ctx, &model.AiContext{Type: model.ContextNote, SourceID: "n1", Text: "nota"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteContext(ctx, c.ID))
	_, err = f.ms.Contexts().Get(ctx, model.ContextNote, "n1")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	err = f.svc.DeleteContext(ctx, c.ID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestListings_NeverNil(t *testing.T) {
	ms := memstore.New()
	svc := New(ms, zerolog.Nop())
	ctx := context.Background()

	contacts, err := svc.Contacts(ctx, ListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, contacts)
	items, err := svc.WorkItems(ctx, ListQuery{ContactID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}
