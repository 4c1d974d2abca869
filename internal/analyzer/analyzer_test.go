package analyzer

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

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/indexer"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
)

type fakeModel struct {
	available bool
	facts     *model.Facts
	err       error
	calls     int
}

func (m *fakeModel) Available() bool { return m.available }

func (m *fakeModel) ExtractText(_ context.Context, _ llm.TextInput) (*model.Facts, error) {
	m.calls++
	return m.facts, m.err
}

type recordedHealth struct {
	mu        sync.Mutex
	companies []string
	contacts  []string
}

func (h *recordedHealth) Company(_ context.Context, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id != "" {
		h.companies = append(h.companies, id)
	}
}

func (h *recordedHealth) Contact(_ context.Context, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id != "" {
		h.contacts = append(h.contacts, id)
	}
}

type harness struct {
	store  *memstore.Store
	model  *fakeModel
	health *recordedHealth
	a      *Analyzer
}

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, m *fakeModel) *harness {
	t.Helper()
	ms := memstore.New()
	h := &harness{store: ms, model: m, health: &recordedHealth{}}
	h.a = New(Deps{
		Store:   ms,
		Model:   m,
		Indexer: indexer.New(ms.Contexts(), nil, 0, zerolog.Nop()),
		Alerts:  alerts.New(ms.Alerts(), zerolog.Nop()),
		Health:  h.health,
	}, zerolog.Nop())
	h.a.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) openAlerts(t *testing.T, et model.EntityType) []*model.Alert {
	t.Helper()
	page, err := h.store.Alerts().List(context.Background(), model.AlertFilter{Status: model.AlertOpen, EntityType: et})
	require.NoError(t, err)
	return page.Data
}

func (h *harness) interaction(t *testing.T, in *model.Interaction) *model.Interaction {
	t.Helper()
	created, err := h.store.Interactions().Create(context.Background(), in)
	require.NoError(t, err)
	return created
}

func TestHeuristicSentiment(t *testing.T) {
	cases := map[string]model.Sentiment{
		"Todo bien, gracias":                   model.SentimentPositive,
		"Hay un problema grave, error crítico": model.SentimentNegative,
		"Reunión programada":                   model.SentimentNeutral,
		"Los problemas siguen":                 model.SentimentNegative,
		"Bueno, no":                            model.SentimentNeutral,
		"Bienvenido al equipo":                 model.SentimentNeutral,
		"Varios errores en producción":         model.SentimentNegative,
		"":                                     model.SentimentNeutral,
	}
	for text, want := range cases {
		for i := 0; i < 3; i++ {
			if got := HeuristicSentiment(text); got != want {
				t.Fatalf("HeuristicSentiment(%q) = %s, want %s", text, got, want)
			}
		}
	}
}

func TestInteraction_NextStepBecomesWorkItem(t *testing.T) {
	budget := 50000.0
	m := &fakeModel{available: true, facts: &model.Facts{
		Summary:      "Solicitud de propuesta",
		Sentiment:    model.SentimentPositive,
		Urgency:      model.UrgencyLow,
		Budget:       &budget,
		Requirements: []string{"SSO"},
		NextSteps:    []model.NextStep{{Title: "Enviar propuesta", DueDate: "2025-03-01", Priority: model.PriorityHigh}},
	}}
	h := newHarness(t, m)
	ctx := context.Background()
	in := h.interaction(t, &model.Interaction{Channel: model.ChannelEmail, Notes: "Enviar propuesta", ContactID: "ct1", CompanyID: "co1"})

	out, err := h.a.Analyze(ctx, InteractionRecord{Row: in})
	require.NoError(t, err)
	assert.Equal(t, MethodModel, out.Method)
	require.Len(t, out.GeneratedWorkItems, 1)

	w, err := h.store.WorkItems().Get(ctx, out.GeneratedWorkItems[0])
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, w.Priority)
	assert.Equal(t, model.StatusPending, w.Status)
	require.NotNil(t, w.DueDate)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *w.DueDate)
	assert.Equal(t, in.ID, w.Data["source_interaction_id"])
	assert.Equal(t, true, w.Data["auto_generated"])
	assert.Equal(t, "ct1", w.AssigneeContactID)

	// Backfill.
	got, err := h.store.Interactions().Get(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Budget)
	assert.Equal(t, 50000.0, *got.Budget)
	require.NotNil(t, got.Currency)
	assert.Equal(t, "USD", *got.Currency)
	assert.Equal(t, []string{"SSO"}, got.Requirements)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, "2025-03-01", got.Deadline.Format("2006-01-02"))

	// Not overdue, not negative, not urgent: no alert.
	assert.Empty(t, h.openAlerts(t, model.EntityInteraction))

	// Re-analysis does not duplicate the derived work item.
	out, err = h.a.Analyze(ctx, InteractionRecord{Row: in})
	require.NoError(t, err)
	assert.Empty(t, out.GeneratedWorkItems)
	items, err := h.store.WorkItems().List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	assert.Contains(t, h.health.contacts, "ct1")
	assert.Contains(t, h.health.companies, "co1")
}

func TestInteraction_HeuristicEndToEnd(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	in := h.interaction(t, &model.Interaction{
		Channel: model.ChannelEmail,
		Notes:   "Necesitamos una propuesta urgente, presupuesto de $50000, fecha límite 2025-02-01",
	})

	out, err := h.a.Analyze(ctx, InteractionRecord{Row: in})
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, out.Method)
	assert.Equal(t, model.SentimentNeutral, out.Facts.Sentiment)
	assert.Equal(t, model.UrgencyMedium, out.Facts.Urgency)
	assert.Empty(t, out.Facts.NextSteps)
	assert.Zero(t, h.model.calls)

	got, err := h.store.Interactions().Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Budget)
	assert.Empty(t, got.Requirements)
	assert.Empty(t, h.openAlerts(t, model.EntityInteraction))

	jobs, err := h.store.Jobs().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobTypeAnalysis, jobs[0].Type)

	c, err := h.store.Contexts().Get(ctx, model.ContextInteraction, in.ID)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "Interaction email on")
	assert.Equal(t, c.ID, out.ContextID)
}

func TestInteraction_OverdueDeadlineRaisesAlert(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	deadline := fixedNow.Add(-48 * time.Hour)
	in := h.interaction(t, &model.Interaction{Channel: model.ChannelChat, Notes: "Reunión programada", Deadline: &deadline})

	out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
	require.NoError(t, err)
	require.Len(t, out.Facts.NextSteps, 1)
	assert.Len(t, out.GeneratedWorkItems, 1)

	open := h.openAlerts(t, model.EntityInteraction)
	require.Len(t, open, 1)
	assert.Equal(t, model.SeverityMedium, open[0].Severity)
	assert.Contains(t, open[0].Message, "Seguimiento vencido: Dar seguimiento antes de")
}

type recordedDispatch struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordedDispatch) Dispatch(_ context.Context, table, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, table+":"+id)
}

func TestInteraction_DerivedWorkItemDispatched(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	rec := &recordedDispatch{}
	h.a.WithDispatcher(rec)
	deadline := fixedNow.Add(-48 * time.Hour)
	in := h.interaction(t, &model.Interaction{Channel: model.ChannelChat, Notes: "Reunión programada", Deadline: &deadline})

	out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
	require.NoError(t, err)
	require.Len(t, out.GeneratedWorkItems, 1)
	assert.Equal(t, []string{"work_items:" + out.GeneratedWorkItems[0]}, rec.calls)

	// A second pass finds the existing item and dispatches nothing new.
	_, err = h.a.Analyze(context.Background(), InteractionRecord{Row: in})
	require.NoError(t, err)
	assert.Len(t, rec.calls, 1)
}

func TestInteraction_AlertRaisedThenResolved(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	ct, err := h.store.Contacts().Create(ctx, &model.Contact{Name: "Ana"})
	require.NoError(t, err)
	in := h.interaction(t, &model.Interaction{Notes: "Hay un problema grave, error crítico", ContactID: ct.ID})

	out, err := h.a.Analyze(ctx, InteractionRecord{Row: in})
	require.NoError(t, err)
	require.NotEmpty(t, out.AlertID)
	open := h.openAlerts(t, model.EntityInteraction)
	require.Len(t, open, 1)
	assert.Equal(t, model.SeverityHigh, open[0].Severity)

	contact, err := h.store.Contacts().Get(ctx, ct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SentimentNegative, contact.Sentiment)

	in.Notes = "Todo bien, gracias"
	out, err = h.a.Analyze(ctx, InteractionRecord{Row: in})
	require.NoError(t, err)
	assert.Equal(t, 1, out.AlertsResolved)
	assert.Empty(t, h.openAlerts(t, model.EntityInteraction))
}

func TestInteraction_CriticalUrgency(t *testing.T) {
	h := newHarness(t, &fakeModel{available: true, facts: &model.Facts{Urgency: model.UrgencyCritical, Sentiment: model.SentimentPositive}})
	in := h.interaction(t, &model.Interaction{Notes: "Caída total del servicio"})

	_, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
	require.NoError(t, err)
	open := h.openAlerts(t, model.EntityInteraction)
	require.Len(t, open, 1)
	assert.Equal(t, model.SeverityCritical, open[0].Severity)
	assert.Equal(t, "Interacción con sentimiento positive y urgencia critical", open[0].Message)
}

func TestInteraction_ModelFailures(t *testing.T) {
	t.Run("invalid credential surfaces", func(t *testing.T) {
		h := newHarness(t, &fakeModel{available: true, err: fmt.Errorf("%w: API key not valid", llm.ErrInvalidCredential)})
		in := h.interaction(t, &model.Interaction{Notes: "Todo bien"})

		out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
		require.ErrorIs(t, err, llm.ErrInvalidCredential)
		require.NotNil(t, out)
		assert.Equal(t, MethodHeuristic, out.Method)
		assert.Equal(t, "invalid_credential", out.ModelError)
		assert.NotEmpty(t, out.ContextID)
	})
	t.Run("parse error falls back quietly", func(t *testing.T) {
		h := newHarness(t, &fakeModel{available: true, err: fmt.Errorf("%w: not json", llm.ErrParse)})
		in := h.interaction(t, &model.Interaction{Notes: "Todo bien"})

		out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
		require.NoError(t, err)
		assert.Equal(t, MethodHeuristic, out.Method)
		assert.Equal(t, model.SentimentPositive, out.Facts.Sentiment)
		assert.Equal(t, "parse_error", out.ModelError)
	})
	t.Run("transient exhaustion falls back", func(t *testing.T) {
		h := newHarness(t, &fakeModel{available: true, err: &llm.TransientError{Attempts: 3, Err: errors.New("503")}})
		in := h.interaction(t, &model.Interaction{Notes: "Todo bien"})

		out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
		require.NoError(t, err)
		assert.Equal(t, "model_unavailable", out.ModelError)
	})
}

func TestInteraction_BackfillFailurePropagates(t *testing.T) {
	h := newHarness(t, &fakeModel{available: true, facts: &model.Facts{KPIs: []string{"NPS"}}})
	// Not persisted, so the backfill update finds nothing.
	in := &model.Interaction{ID: "ghost", Notes: "hola"}

	out, err := h.a.Analyze(context.Background(), InteractionRecord{Row: in})
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.NotEmpty(t, out.ContextID, "later steps still run")
}

func TestWorkItem_LateAndCompleted(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	past := fixedNow.Add(-24 * time.Hour)
	w, err := h.store.WorkItems().Create(ctx, &model.WorkItem{Title: "Enviar contrato", Priority: model.PriorityCritical, DueDate: &past, CompanyID: "co"})
	require.NoError(t, err)

	out, err := h.a.Analyze(ctx, WorkItemRecord{Row: w})
	require.NoError(t, err)
	require.NotNil(t, out.IsLate)
	assert.True(t, *out.IsLate)
	assert.Contains(t, out.Summary, "(atrasado)")
	open := h.openAlerts(t, model.EntityWorkItem)
	require.Len(t, open, 1)
	assert.Equal(t, model.SeverityHigh, open[0].Severity)
	assert.Equal(t, "Work item atrasado: Enviar contrato", open[0].Message)
	assert.Contains(t, h.health.companies, "co")

	w.Status = model.StatusCompleted
	out, err = h.a.Analyze(ctx, WorkItemRecord{Row: w})
	require.NoError(t, err)
	assert.False(t, *out.IsLate)
	assert.Empty(t, h.openAlerts(t, model.EntityWorkItem))

	c, err := h.store.Contexts().Get(ctx, model.ContextWorkItem, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", c.Metadata["status"])
}

func TestContact_LinksCompanyByName(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	co, err := h.store.Companies().Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)
	ct, err := h.store.Contacts().Create(ctx, &model.Contact{Name: "Ana", Company: "Acme"})
	require.NoError(t, err)

	out, err := h.a.Analyze(ctx, ContactRecord{Row: ct})
	require.NoError(t, err)
	assert.Equal(t, "Contacto Ana", out.Summary)
	assert.Equal(t, co.ID, out.LinkedCompanyID)

	got, err := h.store.Contacts().Get(ctx, ct.ID)
	require.NoError(t, err)
	assert.Equal(t, co.ID, got.CompanyID)

	_, err = h.store.Contexts().Get(ctx, model.ContextInteraction, ct.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFreshData_Indexed(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	fd, err := h.store.FreshData().Create(ctx, &model.FreshData{CompanyID: "co", Topic: "funding", Title: "Serie B"})
	require.NoError(t, err)

	out, err := h.a.Analyze(ctx, FreshDataRecord{Row: fd})
	require.NoError(t, err)
	assert.Equal(t, "Señal: Serie B (desconocido)", out.Summary)

	c, err := h.store.Contexts().Get(ctx, model.ContextFreshData, fd.ID)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "Title: Serie B")
	assert.Contains(t, h.health.companies, "co")
	assert.Empty(t, h.openAlerts(t, model.EntityFreshData))
}

func TestUnsupportedPassthrough(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	rec, err := Load(context.Background(), h.store, "invoices", "x1")
	require.NoError(t, err)

	out, err := h.a.Analyze(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, out.Unsupported)
	assert.Equal(t, Kind("invoices"), out.Type)
}

func TestTriggerManual(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	ctx := context.Background()
	var last *model.Interaction
	for i := 0; i < 4; i++ {
		last = h.interaction(t, &model.Interaction{Notes: fmt.Sprintf("nota %d", i)})
	}

	n, err := h.a.TriggerManual(ctx, ManualRequest{Type: "interactions", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.a.TriggerManual(ctx, ManualRequest{Type: "interaction", ID: last.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.a.TriggerManual(ctx, ManualRequest{Type: "interactions", ID: "missing"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = h.a.TriggerManual(ctx, ManualRequest{Type: "invoices"})
	assert.ErrorIs(t, err, model.ErrValidation)
}
