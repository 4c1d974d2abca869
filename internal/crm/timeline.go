package crm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

type EntryType string

const (
	EntryInteraction EntryType = "interaction"
	EntryWorkItem    EntryType = "work_item"
	EntryFreshData   EntryType = "fresh_data"
)

const summaryRunes = 280

// TimelineEntry is one dated event in a company or contact history.
type TimelineEntry struct {
	Type      EntryType      `json:"type"`
	ID        string         `json:"id"`
	At        time.Time      `json:"at"`
	CompanyID string         `json:"company_id,omitempty"`
	ContactID string         `json:"contact_id,omitempty"`
	Title     string         `json:"title,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// TimelineQuery scopes the timeline. Limit defaults to 50 and is capped at 200.
type TimelineQuery struct {
	CompanyID string
	ContactID string
	Limit     int
}

// Timeline merges interactions, work items and fresh data into one list,
// newest first. A contact scope reads the signals of the contact's company.
func (s *Service) Timeline(ctx context.Context, q TimelineQuery) ([]TimelineEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTimeline
	}
	limit = min(limit, maxTimeline)

	scope := store.ListOptions{CompanyID: q.CompanyID, ContactID: q.ContactID, Limit: limit}
	interactions, err := s.store.Interactions().List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	items, err := s.store.WorkItems().List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}

	freshScope := store.ListOptions{CompanyID: q.CompanyID, Limit: limit}
	if freshScope.CompanyID == "" && q.ContactID != "" {
		c, err := s.store.Contacts().Get(ctx, q.ContactID)
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("get contact: %w", err)
		default:
			freshScope.CompanyID = c.CompanyID
		}
	}
	var fresh []*model.FreshData
	if q.ContactID == "" || freshScope.CompanyID != "" {
		if fresh, err = s.store.FreshData().List(ctx, freshScope); err != nil {
			return nil, fmt.Errorf("list fresh data: %w", err)
		}
	}

	out := make([]TimelineEntry, 0, len(interactions)+len(items)+len(fresh))
	for _, in := range interactions {
		data := map[string]any{"channel": in.Channel}
		if in.Budget != nil {
			data["budget"] = *in.Budget
		}
		if in.Deadline != nil {
			data["deadline"] = *in.Deadline
		}
		out = append(out, TimelineEntry{
			Type:      EntryInteraction,
			ID:        in.ID,
			At:        in.OccurredAt,
			CompanyID: in.CompanyID,
			ContactID: in.ContactID,
			Summary:   truncate(in.Notes, summaryRunes),
			Data:      data,
		})
	}
	for _, w := range items {
		data := map[string]any{"status": w.Status, "priority": w.Priority}
		if w.DueDate != nil {
			data["due_date"] = *w.DueDate
		}
		contact := w.AssigneeContactID
		if contact == "" {
			contact = w.OwnerContactID
		}
		out = append(out, TimelineEntry{
			Type:      EntryWorkItem,
			ID:        w.ID,
			At:        w.UpdatedAt,
			CompanyID: w.CompanyID,
			ContactID: contact,
			Title:     w.Title,
			Summary:   truncate(w.Description, summaryRunes),
			Data:      data,
		})
	}
	for _, f := range fresh {
		at := f.CreatedAt
		switch {
		case f.DetectedAt != nil:
			at = *f.DetectedAt
		case f.PublishedAt != nil:
			at = *f.PublishedAt
		}
		out = append(out, TimelineEntry{
			Type:      EntryFreshData,
			ID:        f.ID,
			At:        at,
			CompanyID: f.CompanyID,
			Title:     f.Title,
			Summary:   truncate(f.Summary, summaryRunes),
			Data:      map[string]any{"topic": f.Topic, "source": f.Source, "tags": f.Tags},
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ListQuery pages a plain CRM listing, optionally scoped to a company or
// contact where the table carries one.
type ListQuery = store.ListOptions

func (s *Service) Contacts(ctx context.Context, q ListQuery) ([]*model.Contact, error) {
	return orEmpty(s.store.Contacts().List(ctx, q))
}

func (s *Service) Companies(ctx context.Context, q ListQuery) ([]*model.Company, error) {
	return orEmpty(s.store.Companies().List(ctx, q))
}

func (s *Service) Interactions(ctx context.Context, q ListQuery) ([]*model.Interaction, error) {
	return orEmpty(s.store.Interactions().List(ctx, q))
}

func (s *Service) WorkItems(ctx context.Context, q ListQuery) ([]*model.WorkItem, error) {
	return orEmpty(s.store.WorkItems().List(ctx, q))
}

func (s *Service) FreshData(ctx context.Context, q ListQuery) ([]*model.FreshData, error) {
	return orEmpty(s.store.FreshData().List(ctx, q))
}

func orEmpty[T any](xs []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if xs == nil {
		return []T{}, nil
	}
	return xs, nil
}
