package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// makeStore must return a usable store; the suite only touches records it
// creates itself, so a shared database is fine.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	company, err := s.Companies().Create(ctx, &model.Company{Name: "Acme " + suffix})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	if got, err := s.Companies().FindByName(ctx, "Acme "+suffix); err != nil || got.ID != company.ID {
		t.Fatalf("FindCompanyByName: got=%v err=%v", got, err)
	}
	if _, err := s.Companies().Get(ctx, uuid.New().String()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetCompany missing: expected ErrNotFound, got %v", err)
	}
	companies, err := s.Companies().List(ctx, store.ListOptions{Limit: 1000})
	if err != nil {
		t.Fatalf("ListCompanies: %v", err)
	}
	listedCompany := false
	for _, c := range companies {
		listedCompany = listedCompany || c.ID == company.ID
	}
	if !listedCompany {
		t.Fatalf("ListCompanies missing %s", company.ID)
	}

	contact, err := s.Contacts().Create(ctx, &model.Contact{Name: "Ana " + suffix, Email: "ana-" + suffix + "@example.test", Company: company.Name})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if got, err := s.Contacts().FindByEmail(ctx, "ana-"+suffix+"@example.test"); err != nil || got.ID != contact.ID {
		t.Fatalf("FindContactByEmail: got=%v err=%v", got, err)
	}
	if err := s.Contacts().LinkCompany(ctx, contact.ID, company.ID); err != nil {
		t.Fatalf("LinkCompany: %v", err)
	}
	if err := s.Contacts().Touch(ctx, contact.ID, model.SentimentNegative, time.Now()); err != nil {
		t.Fatalf("TouchContact: %v", err)
	}
	if got, err := s.Contacts().Get(ctx, contact.ID); err != nil || got.CompanyID != company.ID || got.Sentiment != model.SentimentNegative {
		t.Fatalf("GetContact after link/touch: got=%+v err=%v", got, err)
	}

	t.Run("Interactions", func(t *testing.T) { runInteractions(t, s, company, contact) })
	t.Run("WorkItems", func(t *testing.T) { runWorkItems(t, s, company, contact) })
	t.Run("Alerts", func(t *testing.T) { runAlerts(t, s, company, contact) })
	t.Run("Contexts", func(t *testing.T) { runContexts(t, s, company) })
	t.Run("Health", func(t *testing.T) {
		if err := s.Companies().UpdateHealth(ctx, company.ID, 72, "a; b"); err != nil {
			t.Fatalf("UpdateCompanyHealth: %v", err)
		}
		got, err := s.Companies().Get(ctx, company.ID)
		if err != nil || got.HealthScore == nil || *got.HealthScore != 72 || got.HealthNotes != "a; b" {
			t.Fatalf("company health not persisted: %+v err=%v", got, err)
		}
	})
	t.Run("JobsAndKnowledge", func(t *testing.T) { runJobsAndKnowledge(t, s, company, suffix) })
	t.Run("Chat", func(t *testing.T) { runChat(t, s) })
}

func runInteractions(t *testing.T, s store.Store, company *model.Company, contact *model.Contact) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old, err := s.Interactions().Create(ctx, &model.Interaction{
		Channel: model.ChannelEmail, OccurredAt: now.Add(-40 * 24 * time.Hour), Notes: "old",
		CompanyID: company.ID, ContactID: contact.ID, Data: map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("CreateInteraction old: %v", err)
	}
	recent, err := s.Interactions().Create(ctx, &model.Interaction{
		Channel: model.ChannelCall, OccurredAt: now.Add(-2 * time.Hour), Notes: "recent",
		Participants: []string{"Ana", "Luis"}, CompanyID: company.ID, ContactID: contact.ID,
	})
	if err != nil {
		t.Fatalf("CreateInteraction recent: %v", err)
	}

	got, err := s.Interactions().Get(ctx, old.ID)
	if err != nil || got.Notes != "old" || got.Data["k"] != "v" {
		t.Fatalf("GetInteraction: got=%+v err=%v", got, err)
	}

	budget, currency := 50000.0, "USD"
	deadline := now.Add(72 * time.Hour)
	patch := model.InteractionPatch{Budget: &budget, Currency: &currency, Requirements: []string{"SSO"}, Deadline: &deadline}
	if err := s.Interactions().ApplyAnalysis(ctx, recent.ID, patch); err != nil {
		t.Fatalf("ApplyAnalysis: %v", err)
	}
	got, err = s.Interactions().Get(ctx, recent.ID)
	if err != nil || got.Budget == nil || *got.Budget != budget || len(got.Requirements) != 1 || got.Deadline == nil {
		t.Fatalf("ApplyAnalysis not persisted: %+v err=%v", got, err)
	}

	scope := store.Scope{CompanyID: company.ID}
	since := now.Add(-30 * 24 * time.Hour)
	if n, err := s.Interactions().CountSince(ctx, scope, since); err != nil || n != 1 {
		t.Fatalf("CountSince: n=%d err=%v", n, err)
	}
	last, err := s.Interactions().LastOccurredAt(ctx, store.Scope{ContactID: contact.ID}, time.Time{})
	if err != nil || last == nil || !last.Equal(recent.OccurredAt) {
		t.Fatalf("LastOccurredAt: got=%v err=%v", last, err)
	}
	if n, err := s.Interactions().CountWithBudget(ctx, company.ID); err != nil || n != 1 {
		t.Fatalf("CountWithBudget: n=%d err=%v", n, err)
	}

	lst, err := s.Interactions().List(ctx, store.ListOptions{CompanyID: company.ID, Limit: 10})
	if err != nil || len(lst) != 2 || lst[0].ID != recent.ID {
		t.Fatalf("ListInteractions order: n=%d err=%v", len(lst), err)
	}
	lst, err = s.Interactions().List(ctx, store.ListOptions{ContactID: contact.ID, Limit: 10})
	if err != nil || len(lst) != 2 {
		t.Fatalf("ListInteractions by contact: n=%d err=%v", len(lst), err)
	}
	lst, err = s.Interactions().List(ctx, store.ListOptions{ContactID: uuid.New().String()})
	if err != nil || len(lst) != 0 {
		t.Fatalf("ListInteractions unknown contact: n=%d err=%v", len(lst), err)
	}
}

func runWorkItems(t *testing.T, s store.Store, company *model.Company, contact *model.Contact) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	late, err := s.WorkItems().Create(ctx, &model.WorkItem{
		Title: "Enviar propuesta", Status: model.StatusPending, Priority: model.PriorityHigh, DueDate: &past,
		CompanyID: company.ID, AssigneeContactID: contact.ID, OwnerContactID: contact.ID,
		Data: map[string]any{"source_interaction_id": "int-1", "auto_generated": true},
	})
	if err != nil {
		t.Fatalf("CreateWorkItem late: %v", err)
	}
	if _, err := s.WorkItems().Create(ctx, &model.WorkItem{
		Title: "Cerrado", Status: model.StatusCompleted, Priority: model.PriorityLow, DueDate: &past,
		CompanyID: company.ID, AssigneeContactID: contact.ID,
	}); err != nil {
		t.Fatalf("CreateWorkItem done: %v", err)
	}
	if _, err := s.WorkItems().Create(ctx, &model.WorkItem{
		Title: "Futuro", Status: model.StatusInProgress, Priority: model.PriorityMedium, DueDate: &future,
		CompanyID: company.ID, AssigneeContactID: contact.ID,
	}); err != nil {
		t.Fatalf("CreateWorkItem future: %v", err)
	}

	if got, err := s.WorkItems().FindBySource(ctx, "int-1", "Enviar propuesta"); err != nil || got.ID != late.ID {
		t.Fatalf("FindBySource: got=%v err=%v", got, err)
	}
	if _, err := s.WorkItems().FindBySource(ctx, "int-1", "Otro"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("FindBySource missing: expected ErrNotFound, got %v", err)
	}
	if n, err := s.WorkItems().CountOverdue(ctx, company.ID, now); err != nil || n != 1 {
		t.Fatalf("CountOverdue: n=%d err=%v", n, err)
	}
	if n, err := s.WorkItems().CountOpenAssigned(ctx, contact.ID); err != nil || n != 2 {
		t.Fatalf("CountOpenAssigned: n=%d err=%v", n, err)
	}
	overdue, err := s.WorkItems().ListOverdueSince(ctx, now.Add(-48*time.Hour), now, 10)
	if err != nil {
		t.Fatalf("ListOverdueSince: %v", err)
	}
	found := false
	for _, w := range overdue {
		if w.Status == model.StatusCompleted {
			t.Fatalf("ListOverdueSince returned completed item %s", w.ID)
		}
		found = found || w.ID == late.ID
	}
	if !found {
		t.Fatalf("ListOverdueSince missing late item")
	}

	owned, err := s.WorkItems().List(ctx, store.ListOptions{CompanyID: company.ID, ContactID: contact.ID, Limit: 10})
	if err != nil || len(owned) != 3 {
		t.Fatalf("ListWorkItems by contact: n=%d err=%v", len(owned), err)
	}
}

func runAlerts(t *testing.T, s store.Store, company *model.Company, contact *model.Contact) {
	ctx := context.Background()
	entityID := uuid.New().String()

	a, err := s.Alerts().Insert(ctx, &model.Alert{
		EntityType: model.EntityInteraction, EntityID: entityID, Severity: model.SeverityMedium,
		Message: "first", CompanyID: company.ID, ContactID: contact.ID, Data: map[string]any{"n": 1},
	})
	if err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if _, err := s.Alerts().Insert(ctx, &model.Alert{EntityType: model.EntityInteraction, EntityID: entityID, Severity: model.SeverityHigh}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("second open alert: expected ErrConflict, got %v", err)
	}

	open, err := s.Alerts().FindOpen(ctx, model.EntityInteraction, entityID)
	if err != nil || open.ID != a.ID {
		t.Fatalf("FindOpen: got=%v err=%v", open, err)
	}
	open.Severity = model.SeverityCritical
	open.Message = "second"
	if err := s.Alerts().UpdateOpen(ctx, open); err != nil {
		t.Fatalf("UpdateOpen: %v", err)
	}
	got, err := s.Alerts().Get(ctx, a.ID)
	if err != nil || got.Severity != model.SeverityCritical || got.Message != "second" || got.Status != model.AlertOpen {
		t.Fatalf("UpdateOpen not persisted: %+v err=%v", got, err)
	}

	if n, err := s.Alerts().CountOpen(ctx, store.Scope{ContactID: contact.ID}); err != nil || n < 1 {
		t.Fatalf("CountOpen: n=%d err=%v", n, err)
	}
	page, err := s.Alerts().List(ctx, model.AlertFilter{Status: model.AlertOpen, CompanyID: company.ID, EntityType: model.EntityInteraction})
	if err != nil || page.Count < 1 || len(page.Data) < 1 {
		t.Fatalf("ListAlerts: %+v err=%v", page, err)
	}

	n, err := s.Alerts().ResolveByEntity(ctx, model.EntityInteraction, entityID, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("ResolveByEntity: n=%d err=%v", n, err)
	}
	if _, err := s.Alerts().FindOpen(ctx, model.EntityInteraction, entityID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("FindOpen after resolve: expected ErrNotFound, got %v", err)
	}
	got, _ = s.Alerts().Get(ctx, a.ID)
	if got.Status != model.AlertResolved || got.ResolvedAt == nil {
		t.Fatalf("resolved alert not stamped: %+v", got)
	}

	// A resolved alert does not block a new open one.
	b, err := s.Alerts().Insert(ctx, &model.Alert{EntityType: model.EntityInteraction, EntityID: entityID, Severity: model.SeverityLow, Message: "again"})
	if err != nil {
		t.Fatalf("Insert after resolve: %v", err)
	}
	if err := s.Alerts().ResolveByID(ctx, b.ID, time.Now()); err != nil {
		t.Fatalf("ResolveByID: %v", err)
	}
	if err := s.Alerts().ResolveByID(ctx, uuid.New().String(), time.Now()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ResolveByID missing: expected ErrNotFound, got %v", err)
	}
}

func runContexts(t *testing.T, s store.Store, company *model.Company) {
	ctx := context.Background()
	sourceID := uuid.New().String()
	dim := 768
	vec := func(hot int) []float32 {
		v := make([]float32, dim)
		v[hot] = 1
		return v
	}

	first, err := s.Contexts().Upsert(ctx, &model.AiContext{
		Type: model.ContextInteraction, SourceID: sourceID, Text: "first", Embedding: vec(0),
		CompanyID: company.ID, Metadata: map[string]any{"v": 1},
	})
	if err != nil {
		t.Fatalf("UpsertContext first: %v", err)
	}
	second, err := s.Contexts().Upsert(ctx, &model.AiContext{
		Type: model.ContextInteraction, SourceID: sourceID, Text: "second", Embedding: vec(1),
		CompanyID: company.ID, Metadata: map[string]any{"v": 2},
	})
	if err != nil {
		t.Fatalf("UpsertContext second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert created a second row: %s vs %s", first.ID, second.ID)
	}
	got, err := s.Contexts().Get(ctx, model.ContextInteraction, sourceID)
	if err != nil || got.Text != "second" {
		t.Fatalf("GetContext: got=%+v err=%v", got, err)
	}

	// No embedding: stored, listed, never matched.
	bare := uuid.New().String()
	if _, err := s.Contexts().Upsert(ctx, &model.AiContext{Type: model.ContextNote, SourceID: bare, Text: "sin vector", CompanyID: company.ID}); err != nil {
		t.Fatalf("UpsertContext without embedding: %v", err)
	}
	matches, err := s.Contexts().Match(ctx, model.MatchQuery{Embedding: vec(1), Count: 5, CompanyID: company.ID})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) == 0 || matches[0].Context.SourceID != sourceID {
		t.Fatalf("Match: expected %s first, got %+v", sourceID, matches)
	}
	for _, m := range matches {
		if m.Context.SourceID == bare {
			t.Fatalf("context without embedding matched")
		}
	}
	listed, err := s.Contexts().List(ctx, model.ContextFilter{Type: model.ContextNote, CompanyID: company.ID, Query: "VECTOR"})
	if err != nil || len(listed) != 1 || listed[0].SourceID != bare {
		t.Fatalf("ListContexts: n=%d err=%v", len(listed), err)
	}

	if err := s.Contexts().Delete(ctx, listed[0].ID); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if _, err := s.Contexts().Get(ctx, model.ContextNote, bare); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetContext after delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Contexts().Delete(ctx, uuid.New().String()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("DeleteContext missing: expected ErrNotFound, got %v", err)
	}
}

func runJobsAndKnowledge(t *testing.T, s store.Store, company *model.Company, suffix string) {
	ctx := context.Background()
	if _, err := s.Jobs().Append(ctx, &model.Job{
		Type: model.JobTypeAnalysis, Status: model.JobStatusCompleted,
		Input: map[string]any{"id": "x"}, Output: map[string]any{"summary": "s"},
	}); err != nil {
		t.Fatalf("AppendJob: %v", err)
	}
	if lst, err := s.Jobs().List(ctx, 5); err != nil || len(lst) == 0 {
		t.Fatalf("ListJobs: n=%d err=%v", len(lst), err)
	}

	e, err := s.Knowledge().Create(ctx, &model.KnowledgeEntry{
		Title: "Política " + suffix, Content: "Descuentos por volumen hasta 15%", CompanyID: company.ID,
		Metadata: map[string]any{"source": "manual"},
	})
	if err != nil {
		t.Fatalf("CreateKnowledge: %v", err)
	}
	hits, err := s.Knowledge().Search(ctx, "DESCUENTOS", company.ID, 5)
	if err != nil || len(hits) != 1 || hits[0].ID != e.ID {
		t.Fatalf("SearchKnowledge: n=%d err=%v", len(hits), err)
	}
	if err := s.Knowledge().Delete(ctx, e.ID); err != nil {
		t.Fatalf("DeleteKnowledge: %v", err)
	}
	if _, err := s.Knowledge().Get(ctx, e.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetKnowledge after delete: expected ErrNotFound, got %v", err)
	}
}

func runChat(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.Chat().CreateSession(ctx, &model.ChatSession{Title: "Pipeline"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, m := range []struct{ role, content string }{{model.RoleUser, "hola"}, {model.RoleAssistant, "hola, ¿en qué ayudo?"}, {model.RoleUser, "alertas"}} {
		if _, err := s.Chat().AppendMessage(ctx, &model.ChatMessage{SessionID: sess.ID, Role: m.role, Content: m.content}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	msgs, err := s.Chat().ListMessages(ctx, sess.ID, 2)
	if err != nil || len(msgs) != 2 || msgs[1].Content != "alertas" {
		t.Fatalf("ListMessages: %+v err=%v", msgs, err)
	}
	if err := s.Chat().LogToolCall(ctx, &model.ToolCall{SessionID: sess.ID, Tool: "alerts", Input: map[string]any{}, Output: []string{}}); err != nil {
		t.Fatalf("LogToolCall: %v", err)
	}
}
