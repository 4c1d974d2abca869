// Package memstore is an in-process store.Store used by tests and by the
// service when no database is configured.
package memstore

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const defaultLimit = 100

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	interactions map[string]*model.Interaction
	workItems    map[string]*model.WorkItem
	alerts       map[string]*model.Alert
	contexts     map[string]*model.AiContext // key: type + "/" + source_id
	contacts     map[string]*model.Contact
	companies    map[string]*model.Company
	freshData    map[string]*model.FreshData
	jobs         []*model.Job
	knowledge    map[string]*model.KnowledgeEntry
	sessions     map[string]*model.ChatSession
	messages     []*model.ChatMessage
	toolCalls    []*model.ToolCall
	seq          int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:          time.Now,
		interactions: map[string]*model.Interaction{},
		workItems:    map[string]*model.WorkItem{},
		alerts:       map[string]*model.Alert{},
		contexts:     map[string]*model.AiContext{},
		contacts:     map[string]*model.Contact{},
		companies:    map[string]*model.Company{},
		freshData:    map[string]*model.FreshData{},
		knowledge:    map[string]*model.KnowledgeEntry{},
		sessions:     map[string]*model.ChatSession{},
	}
}

// SetClock overrides the timestamp source used for created/updated stamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Interactions() store.Interactions { return &interactions{s} }
func (s *Store) WorkItems() store.WorkItems       { return &workItems{s} }
func (s *Store) Alerts() store.Alerts             { return &alerts{s} }
func (s *Store) Contexts() store.Contexts         { return &contexts{s} }
func (s *Store) Contacts() store.Contacts         { return &contacts{s} }
func (s *Store) Companies() store.Companies       { return &companies{s} }
func (s *Store) FreshData() store.FreshData       { return &freshData{s} }
func (s *Store) Jobs() store.Jobs                 { return &jobs{s} }
func (s *Store) Knowledge() store.Knowledge       { return &knowledge{s} }
func (s *Store) Chat() store.Chat                 { return &chat{s} }
func (s *Store) Close() error                     { return nil }

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error { return ctx.Err() }

func newID() string { return uuid.New().String() }

// tick returns a strictly increasing timestamp so insertion order survives
// equal wall-clock readings.
func (s *Store) tick() time.Time {
	s.seq++
	return s.now().UTC().Add(time.Duration(s.seq) * time.Nanosecond)
}

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

func inScope(scope store.Scope, companyID, contactID string) bool {
	if scope.CompanyID != "" && scope.CompanyID != companyID {
		return false
	}
	if scope.ContactID != "" && scope.ContactID != contactID {
		return false
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInteraction(in *model.Interaction) *model.Interaction {
	out := *in
	out.Participants = slices.Clone(in.Participants)
	out.Requirements = slices.Clone(in.Requirements)
	out.KPIs = slices.Clone(in.KPIs)
	out.Data = maps.Clone(in.Data)
	out.Deadline = cloneTime(in.Deadline)
	if in.Budget != nil {
		b := *in.Budget
		out.Budget = &b
	}
	if in.Currency != nil {
		c := *in.Currency
		out.Currency = &c
	}
	return &out
}

func cloneWorkItem(w *model.WorkItem) *model.WorkItem {
	out := *w
	out.Data = maps.Clone(w.Data)
	out.DueDate = cloneTime(w.DueDate)
	return &out
}

func cloneAlert(a *model.Alert) *model.Alert {
	out := *a
	out.Data = maps.Clone(a.Data)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	return &out
}

func cloneContext(c *model.AiContext) *model.AiContext {
	out := *c
	out.Embedding = slices.Clone(c.Embedding)
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// --- Interactions ---

type interactions struct{ s *Store }

func (r *interactions) Create(_ context.Context, in *model.Interaction) (*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneInteraction(in)
	if out.ID == "" {
		out.ID = newID()
	}
	if _, exists := r.s.interactions[out.ID]; exists {
		return nil, model.ErrConflict
	}
	now := r.s.tick()
	if out.OccurredAt.IsZero() {
		out.OccurredAt = now
	}
	if out.Channel == "" {
		out.Channel = model.ChannelOther
	}
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.interactions[out.ID] = out
	return cloneInteraction(out), nil
}

func (r *interactions) Get(_ context.Context, id string) (*model.Interaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	in, ok := r.s.interactions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneInteraction(in), nil
}

func (r *interactions) List(_ context.Context, opts store.ListOptions) ([]*model.Interaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.Interaction
	for _, in := range r.s.interactions {
		if opts.CompanyID != "" && in.CompanyID != opts.CompanyID {
			continue
		}
		if opts.ContactID != "" && in.ContactID != opts.ContactID {
			continue
		}
		res = append(res, cloneInteraction(in))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OccurredAt.After(res[j].OccurredAt) })
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

func (r *interactions) ApplyAnalysis(_ context.Context, id string, p model.InteractionPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.interactions[id]
	if !ok {
		return model.ErrNotFound
	}
	if p.Budget != nil {
		b := *p.Budget
		in.Budget = &b
	}
	if p.Currency != nil {
		c := *p.Currency
		in.Currency = &c
	}
	if len(p.Requirements) > 0 {
		in.Requirements = slices.Clone(p.Requirements)
	}
	if len(p.KPIs) > 0 {
		in.KPIs = slices.Clone(p.KPIs)
	}
	if p.Deadline != nil {
		in.Deadline = cloneTime(p.Deadline)
	}
	in.UpdatedAt = r.s.tick()
	return nil
}

func (r *interactions) CountSince(_ context.Context, scope store.Scope, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, in := range r.s.interactions {
		if inScope(scope, in.CompanyID, in.ContactID) && !in.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *interactions) LastOccurredAt(_ context.Context, scope store.Scope, since time.Time) (*time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var last *time.Time
	for _, in := range r.s.interactions {
		if !inScope(scope, in.CompanyID, in.ContactID) || in.OccurredAt.Before(since) {
			continue
		}
		if last == nil || in.OccurredAt.After(*last) {
			t := in.OccurredAt
			last = &t
		}
	}
	return last, nil
}

func (r *interactions) CountWithBudget(_ context.Context, companyID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, in := range r.s.interactions {
		if in.CompanyID == companyID && in.Budget != nil {
			n++
		}
	}
	return n, nil
}

// --- Work items ---

type workItems struct{ s *Store }

func (r *workItems) Create(_ context.Context, w *model.WorkItem) (*model.WorkItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneWorkItem(w)
	if out.ID == "" {
		out.ID = newID()
	}
	if _, exists := r.s.workItems[out.ID]; exists {
		return nil, model.ErrConflict
	}
	if out.Status == "" {
		out.Status = model.StatusPending
	}
	if out.Priority == "" {
		out.Priority = model.PriorityMedium
	}
	now := r.s.tick()
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.workItems[out.ID] = out
	return cloneWorkItem(out), nil
}

func (r *workItems) Get(_ context.Context, id string) (*model.WorkItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.workItems[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneWorkItem(w), nil
}

func (r *workItems) List(_ context.Context, opts store.ListOptions) ([]*model.WorkItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.WorkItem
	for _, w := range r.s.workItems {
		if opts.CompanyID != "" && w.CompanyID != opts.CompanyID {
			continue
		}
		if opts.ContactID != "" && w.OwnerContactID != opts.ContactID && w.AssigneeContactID != opts.ContactID {
			continue
		}
		res = append(res, cloneWorkItem(w))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

func (r *workItems) FindBySource(_ context.Context, interactionID, title string) (*model.WorkItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, w := range r.s.workItems {
		if src, _ := w.Data["source_interaction_id"].(string); src == interactionID && w.Title == title {
			return cloneWorkItem(w), nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *workItems) CountOverdue(_ context.Context, companyID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, w := range r.s.workItems {
		if w.CompanyID == companyID && w.IsLate(now) {
			n++
		}
	}
	return n, nil
}

func (r *workItems) CountOpenAssigned(_ context.Context, contactID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, w := range r.s.workItems {
		if w.AssigneeContactID == contactID && w.Status != model.StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (r *workItems) ListOverdueSince(_ context.Context, from, to time.Time, limit int) ([]*model.WorkItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.WorkItem
	for _, w := range r.s.workItems {
		if w.DueDate == nil || w.Status == model.StatusCompleted {
			continue
		}
		if w.DueDate.Before(from) || !w.DueDate.Before(to) {
			continue
		}
		res = append(res, cloneWorkItem(w))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DueDate.Before(*res[j].DueDate) })
	return page(res, 0, limitOr(limit)), nil
}

// --- Alerts ---

type alerts struct{ s *Store }

func (r *alerts) findOpenLocked(entityType model.EntityType, entityID string) *model.Alert {
	for _, a := range r.s.alerts {
		if a.EntityType == entityType && a.EntityID == entityID && a.Status == model.AlertOpen {
			return a
		}
	}
	return nil
}

func (r *alerts) FindOpen(_ context.Context, entityType model.EntityType, entityID string) (*model.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if a := r.findOpenLocked(entityType, entityID); a != nil {
		return cloneAlert(a), nil
	}
	return nil, model.ErrNotFound
}

func (r *alerts) Insert(_ context.Context, a *model.Alert) (*model.Alert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.findOpenLocked(a.EntityType, a.EntityID) != nil {
		return nil, model.ErrConflict
	}
	out := cloneAlert(a)
	if out.ID == "" {
		out.ID = newID()
	}
	out.Status = model.AlertOpen
	out.ResolvedAt = nil
	now := r.s.tick()
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.alerts[out.ID] = out
	return cloneAlert(out), nil
}

func (r *alerts) UpdateOpen(_ context.Context, a *model.Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.alerts[a.ID]
	if !ok {
		return model.ErrNotFound
	}
	cur.Severity = a.Severity
	cur.Message = a.Message
	cur.Data = maps.Clone(a.Data)
	cur.CompanyID = a.CompanyID
	cur.ContactID = a.ContactID
	cur.UpdatedAt = r.s.tick()
	return nil
}

func (r *alerts) ResolveByEntity(_ context.Context, entityType model.EntityType, entityID string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.alerts {
		if a.EntityType == entityType && a.EntityID == entityID && a.Status == model.AlertOpen {
			t := at
			a.Status = model.AlertResolved
			a.ResolvedAt = &t
			a.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (r *alerts) ResolveByID(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.alerts[id]
	if !ok {
		return model.ErrNotFound
	}
	t := at
	a.Status = model.AlertResolved
	a.ResolvedAt = &t
	a.UpdatedAt = at
	return nil
}

func (r *alerts) Get(_ context.Context, id string) (*model.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.alerts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneAlert(a), nil
}

func (r *alerts) List(_ context.Context, f model.AlertFilter) (*model.AlertPage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.Alert
	for _, a := range r.s.alerts {
		switch {
		case f.Status != "" && a.Status != f.Status:
		case f.Severity != "" && a.Severity != f.Severity:
		case f.EntityType != "" && a.EntityType != f.EntityType:
		case f.CompanyID != "" && a.CompanyID != f.CompanyID:
		case f.ContactID != "" && a.ContactID != f.ContactID:
		default:
			res = append(res, cloneAlert(a))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return &model.AlertPage{Data: page(res, f.Offset, limit), Count: len(res)}, nil
}

func (r *alerts) CountOpen(_ context.Context, scope store.Scope) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, a := range r.s.alerts {
		if a.Status == model.AlertOpen && inScope(scope, a.CompanyID, a.ContactID) {
			n++
		}
	}
	return n, nil
}

// --- Contexts ---

type contexts struct{ s *Store }

func contextKey(typ model.ContextType, sourceID string) string { return string(typ) + "/" + sourceID }

func (r *contexts) Upsert(_ context.Context, c *model.AiContext) (*model.AiContext, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := contextKey(c.Type, c.SourceID)
	out := cloneContext(c)
	now := r.s.tick()
	if prev, ok := r.s.contexts[key]; ok {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
	} else {
		out.ID = newID()
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	r.s.contexts[key] = out
	return cloneContext(out), nil
}

func (r *contexts) Get(_ context.Context, typ model.ContextType, sourceID string) (*model.AiContext, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.contexts[contextKey(typ, sourceID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneContext(c), nil
}

func (r *contexts) Match(_ context.Context, q model.MatchQuery) ([]model.ContextMatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []model.ContextMatch
	for _, c := range r.s.contexts {
		if !c.HasEmbedding() || len(c.Embedding) != len(q.Embedding) {
			continue
		}
		if q.Type != "" && c.Type != q.Type {
			continue
		}
		if !inScope(store.Scope{CompanyID: q.CompanyID, ContactID: q.ContactID}, c.CompanyID, c.ContactID) {
			continue
		}
		res = append(res, model.ContextMatch{Context: cloneContext(c), Similarity: cosine(q.Embedding, c.Embedding)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Similarity > res[j].Similarity })
	return page(res, 0, limitOr(q.Count)), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (r *contexts) List(_ context.Context, f model.ContextFilter) ([]*model.AiContext, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q := strings.ToLower(f.Query)
	var res []*model.AiContext
	for _, c := range r.s.contexts {
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		if !inScope(store.Scope{CompanyID: f.CompanyID, ContactID: f.ContactID}, c.CompanyID, c.ContactID) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Text), q) {
			continue
		}
		res = append(res, cloneContext(c))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return page(res, 0, limitOr(f.Limit)), nil
}

func (r *contexts) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, c := range r.s.contexts {
		if c.ID == id {
			delete(r.s.contexts, key)
			return nil
		}
	}
	return model.ErrNotFound
}

// --- Contacts ---

type contacts struct{ s *Store }

func cloneContact(c *model.Contact) *model.Contact {
	out := *c
	out.Data = maps.Clone(c.Data)
	if c.HealthScore != nil {
		v := *c.HealthScore
		out.HealthScore = &v
	}
	return &out
}

func (r *contacts) Create(_ context.Context, c *model.Contact) (*model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneContact(c)
	if out.ID == "" {
		out.ID = newID()
	}
	if _, exists := r.s.contacts[out.ID]; exists {
		return nil, model.ErrConflict
	}
	now := r.s.tick()
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.contacts[out.ID] = out
	return cloneContact(out), nil
}

func (r *contacts) Get(_ context.Context, id string) (*model.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneContact(c), nil
}

func (r *contacts) findLocked(match func(*model.Contact) bool) (*model.Contact, error) {
	var best *model.Contact
	for _, c := range r.s.contacts {
		if match(c) && (best == nil || c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	return cloneContact(best), nil
}

func (r *contacts) FindByEmail(_ context.Context, email string) (*model.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.findLocked(func(c *model.Contact) bool { return email != "" && strings.EqualFold(c.Email, email) })
}

func (r *contacts) FindByName(_ context.Context, name string) (*model.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.findLocked(func(c *model.Contact) bool { return name != "" && c.Name == name })
}

func (r *contacts) List(_ context.Context, opts store.ListOptions) ([]*model.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.Contact
	for _, c := range r.s.contacts {
		if opts.CompanyID != "" && c.CompanyID != opts.CompanyID {
			continue
		}
		res = append(res, cloneContact(c))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

func (r *contacts) Touch(_ context.Context, id string, sentiment model.Sentiment, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return model.ErrNotFound
	}
	c.Sentiment = sentiment
	c.UpdatedAt = at
	return nil
}

func (r *contacts) LinkCompany(_ context.Context, id, companyID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return model.ErrNotFound
	}
	c.CompanyID = companyID
	c.UpdatedAt = r.s.tick()
	return nil
}

func (r *contacts) UpdateHealth(_ context.Context, id string, score int, notes string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return model.ErrNotFound
	}
	c.HealthScore = &score
	c.HealthNotes = notes
	return nil
}

// --- Companies ---

type companies struct{ s *Store }

func cloneCompany(c *model.Company) *model.Company {
	out := *c
	if c.HealthScore != nil {
		v := *c.HealthScore
		out.HealthScore = &v
	}
	return &out
}

func (r *companies) Create(_ context.Context, c *model.Company) (*model.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneCompany(c)
	if out.ID == "" {
		out.ID = newID()
	}
	if _, exists := r.s.companies[out.ID]; exists {
		return nil, model.ErrConflict
	}
	now := r.s.tick()
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.companies[out.ID] = out
	return cloneCompany(out), nil
}

func (r *companies) Get(_ context.Context, id string) (*model.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneCompany(c), nil
}

func (r *companies) List(_ context.Context, opts store.ListOptions) ([]*model.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]*model.Company, 0, len(r.s.companies))
	for _, c := range r.s.companies {
		res = append(res, cloneCompany(c))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

func (r *companies) FindByName(_ context.Context, name string) (*model.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var best *model.Company
	for _, c := range r.s.companies {
		if name != "" && c.Name == name && (best == nil || c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	return cloneCompany(best), nil
}

func (r *companies) UpdateHealth(_ context.Context, id string, score int, notes string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.companies[id]
	if !ok {
		return model.ErrNotFound
	}
	c.HealthScore = &score
	c.HealthNotes = notes
	return nil
}

// --- Fresh data ---

type freshData struct{ s *Store }

func cloneFresh(f *model.FreshData) *model.FreshData {
	out := *f
	out.Tags = slices.Clone(f.Tags)
	out.Analysis = maps.Clone(f.Analysis)
	out.PublishedAt = cloneTime(f.PublishedAt)
	out.DetectedAt = cloneTime(f.DetectedAt)
	return &out
}

func (r *freshData) Create(_ context.Context, f *model.FreshData) (*model.FreshData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneFresh(f)
	if out.ID == "" {
		out.ID = newID()
	}
	if _, exists := r.s.freshData[out.ID]; exists {
		return nil, model.ErrConflict
	}
	now := r.s.tick()
	if out.DetectedAt == nil {
		out.DetectedAt = &now
	}
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.freshData[out.ID] = out
	return cloneFresh(out), nil
}

func (r *freshData) Get(_ context.Context, id string) (*model.FreshData, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	f, ok := r.s.freshData[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneFresh(f), nil
}

func (r *freshData) List(_ context.Context, opts store.ListOptions) ([]*model.FreshData, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.FreshData
	for _, f := range r.s.freshData {
		if opts.CompanyID != "" && f.CompanyID != opts.CompanyID {
			continue
		}
		res = append(res, cloneFresh(f))
	}
	published := func(f *model.FreshData) time.Time {
		if f.PublishedAt != nil {
			return *f.PublishedAt
		}
		return time.Time{}
	}
	sort.Slice(res, func(i, j int) bool { return published(res[i]).After(published(res[j])) })
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

// --- Jobs ---

type jobs struct{ s *Store }

func (r *jobs) Append(_ context.Context, j *model.Job) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *j
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = r.s.tick()
	r.s.jobs = append(r.s.jobs, &out)
	cp := out
	return &cp, nil
}

func (r *jobs) List(_ context.Context, limit int) ([]*model.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := make([]*model.Job, 0, len(r.s.jobs))
	for i := len(r.s.jobs) - 1; i >= 0; i-- {
		cp := *r.s.jobs[i]
		res = append(res, &cp)
	}
	return page(res, 0, limitOr(limit)), nil
}

// --- Knowledge ---

type knowledge struct{ s *Store }

func cloneEntry(e *model.KnowledgeEntry) *model.KnowledgeEntry {
	out := *e
	out.Metadata = maps.Clone(e.Metadata)
	return &out
}

func (r *knowledge) Create(_ context.Context, e *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := cloneEntry(e)
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = r.s.tick()
	r.s.knowledge[out.ID] = out
	return cloneEntry(out), nil
}

func (r *knowledge) Get(_ context.Context, id string) (*model.KnowledgeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.knowledge[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (r *knowledge) listLocked(match func(*model.KnowledgeEntry) bool) []*model.KnowledgeEntry {
	var res []*model.KnowledgeEntry
	for _, e := range r.s.knowledge {
		if match(e) {
			res = append(res, cloneEntry(e))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

func (r *knowledge) List(_ context.Context, opts store.ListOptions) ([]*model.KnowledgeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res := r.listLocked(func(e *model.KnowledgeEntry) bool {
		return opts.CompanyID == "" || e.CompanyID == opts.CompanyID
	})
	return page(res, opts.Offset, limitOr(opts.Limit)), nil
}

func (r *knowledge) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.knowledge[id]; !ok {
		return model.ErrNotFound
	}
	delete(r.s.knowledge, id)
	delete(r.s.contexts, contextKey(model.ContextKnowledge, id))
	return nil
}

func (r *knowledge) Search(_ context.Context, query, companyID string, limit int) ([]*model.KnowledgeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	res := r.listLocked(func(e *model.KnowledgeEntry) bool {
		if companyID != "" && e.CompanyID != companyID {
			return false
		}
		return q == "" || strings.Contains(strings.ToLower(e.Title), q) || strings.Contains(strings.ToLower(e.Content), q)
	})
	return page(res, 0, limitOr(limit)), nil
}

// --- Chat ---

type chat struct{ s *Store }

func (r *chat) CreateSession(_ context.Context, sess *model.ChatSession) (*model.ChatSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *sess
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = r.s.tick()
	r.s.sessions[out.ID] = &out
	cp := out
	return &cp, nil
}

func (r *chat) GetSession(_ context.Context, id string) (*model.ChatSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *chat) AppendMessage(_ context.Context, m *model.ChatMessage) (*model.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[m.SessionID]; !ok {
		return nil, model.ErrNotFound
	}
	out := *m
	out.Metadata = maps.Clone(m.Metadata)
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = r.s.tick()
	r.s.messages = append(r.s.messages, &out)
	cp := out
	return &cp, nil
}

func (r *chat) ListMessages(_ context.Context, sessionID string, limit int) ([]*model.ChatMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*model.ChatMessage
	for _, m := range r.s.messages {
		if m.SessionID == sessionID {
			cp := *m
			res = append(res, &cp)
		}
	}
	limit = limitOr(limit)
	if len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (r *chat) LogToolCall(_ context.Context, c *model.ToolCall) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *c
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = r.s.tick()
	r.s.toolCalls = append(r.s.toolCalls, &out)
	return nil
}

// ToolCalls returns a copy of the logged chat tool calls, oldest first.
func (s *Store) ToolCalls() []*model.ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ToolCall, len(s.toolCalls))
	for i, c := range s.toolCalls {
		cp := *c
		out[i] = &cp
	}
	return out
}
