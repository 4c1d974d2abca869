// Package scoring derives 0-100 health scores for companies and contacts
// from current alerts, overdue work and interaction recency. A score is
// recomputed from scratch every time; nothing is accumulated.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	day             = 24 * time.Hour
	recentWindow    = 30 * day
	staleContactAge = 21 * day
)

// Result is a computed score and the reasons behind it.
type Result struct {
	Score             int        `json:"score"`
	Notes             []string   `json:"notes"`
	LastInteractionAt *time.Time `json:"last_interaction_at"`
}

// NotesText is the persisted health_notes form.
func (r Result) NotesText() string { return strings.Join(r.Notes, "; ") }

// CompanySignals are the inputs of a company score.
type CompanySignals struct {
	OpenAlerts           int
	OverdueWorkItems     int
	RecentInteractions   int
	BudgetedInteractions int
}

// ScoreCompany: -15 per open alert, -10 per overdue work item, -10 without
// interactions in 30 days, -5 without any budgeted interaction.
func ScoreCompany(s CompanySignals) Result {
	score := 100.0
	var notes []string

	score -= float64(s.OpenAlerts) * 15
	score -= float64(s.OverdueWorkItems) * 10

	if s.RecentInteractions == 0 {
		score -= 10
		notes = append(notes, "Sin interacciones en los últimos 30 días")
	} else {
		notes = append(notes, fmt.Sprintf("%d interacciones en 30 días", s.RecentInteractions))
	}
	if s.OpenAlerts > 0 {
		notes = append(notes, fmt.Sprintf("Alertas abiertas: %d", s.OpenAlerts))
	}
	if s.OverdueWorkItems > 0 {
		notes = append(notes, fmt.Sprintf("Work items vencidos: %d", s.OverdueWorkItems))
	}
	if s.BudgetedInteractions == 0 {
		score -= 5
		notes = append(notes, "Sin oportunidades con presupuesto activo")
	} else {
		notes = append(notes, fmt.Sprintf("Oportunidades activas: %d", s.BudgetedInteractions))
	}
	return Result{Score: clamp(score), Notes: notes}
}

// ContactSignals are the inputs of a contact score.
type ContactSignals struct {
	OpenAlerts         int
	OpenWorkItems      int
	RecentInteractions int
	LastInteractionAt  *time.Time
	Now                time.Time
}

// ScoreContact: -20 if never contacted, -10 if the last interaction is over
// 21 days old, -15 with any open alert, -5 per open assigned work item (at
// most -20), -10 without interactions in 30 days.
func ScoreContact(s ContactSignals) Result {
	score := 100.0
	var notes []string

	switch {
	case s.LastInteractionAt == nil:
		score -= 20
		notes = append(notes, "Nunca se ha interactuado con este contacto")
	case s.LastInteractionAt.Before(s.Now.Add(-staleContactAge)):
		score -= 10
		notes = append(notes, "Más de 3 semanas sin interacción")
	}
	if s.OpenAlerts > 0 {
		score -= 15
		notes = append(notes, fmt.Sprintf("Alertas abiertas: %d", s.OpenAlerts))
	}
	if s.OpenWorkItems > 0 {
		score -= math.Min(20, float64(s.OpenWorkItems)*5)
		notes = append(notes, fmt.Sprintf("Work items asignados pendientes: %d", s.OpenWorkItems))
	}
	if s.RecentInteractions == 0 {
		score -= 10
		notes = append(notes, "Sin interacciones en los últimos 30 días")
	}
	return Result{Score: clamp(score), Notes: notes, LastInteractionAt: s.LastInteractionAt}
}

func clamp(score float64) int {
	return int(math.Max(0, math.Min(100, math.Round(score))))
}

// Scorer reads signals from the store and writes the resulting score back.
type Scorer struct {
	store store.Store
	now   func() time.Time
	log   zerolog.Logger
}

func New(s store.Store, log zerolog.Logger) *Scorer {
	return &Scorer{store: s, now: time.Now, log: log.With().Str("component", "scoring").Logger()}
}

// ComputeCompany recomputes and persists a company's health.
func (s *Scorer) ComputeCompany(ctx context.Context, companyID string) (*Result, error) {
	now := s.now().UTC()
	scope := store.Scope{CompanyID: companyID}
	since := now.Add(-recentWindow)

	var sig CompanySignals
	var err error
	if sig.OpenAlerts, err = s.store.Alerts().CountOpen(ctx, scope); err != nil {
		return nil, fmt.Errorf("count open alerts: %w", err)
	}
	if sig.OverdueWorkItems, err = s.store.WorkItems().CountOverdue(ctx, companyID, now); err != nil {
		return nil, fmt.Errorf("count overdue work items: %w", err)
	}
	if sig.RecentInteractions, err = s.store.Interactions().CountSince(ctx, scope, since); err != nil {
		return nil, fmt.Errorf("count recent interactions: %w", err)
	}
	if sig.BudgetedInteractions, err = s.store.Interactions().CountWithBudget(ctx, companyID); err != nil {
		return nil, fmt.Errorf("count budgeted interactions: %w", err)
	}
	last, err := s.store.Interactions().LastOccurredAt(ctx, scope, since)
	if err != nil {
		return nil, fmt.Errorf("last interaction: %w", err)
	}

	res := ScoreCompany(sig)
	res.LastInteractionAt = last
	if err := s.store.Companies().UpdateHealth(ctx, companyID, res.Score, res.NotesText()); err != nil {
		return nil, fmt.Errorf("update company health: %w", err)
	}
	recomputes.WithLabelValues("company").Inc()
	s.log.Debug().Str("company_id", companyID).Int("score", res.Score).Msg("company health updated")
	return &res, nil
}

// ComputeContact recomputes and persists a contact's health.
func (s *Scorer) ComputeContact(ctx context.Context, contactID string) (*Result, error) {
	now := s.now().UTC()
	scope := store.Scope{ContactID: contactID}

	sig := ContactSignals{Now: now}
	var err error
	if sig.OpenAlerts, err = s.store.Alerts().CountOpen(ctx, scope); err != nil {
		return nil, fmt.Errorf("count open alerts: %w", err)
	}
	if sig.LastInteractionAt, err = s.store.Interactions().LastOccurredAt(ctx, scope, time.Time{}); err != nil {
		return nil, fmt.Errorf("last interaction: %w", err)
	}
	if sig.RecentInteractions, err = s.store.Interactions().CountSince(ctx, scope, now.Add(-recentWindow)); err != nil {
		return nil, fmt.Errorf("count recent interactions: %w", err)
	}
	if sig.OpenWorkItems, err = s.store.WorkItems().CountOpenAssigned(ctx, contactID); err != nil {
		return nil, fmt.Errorf("count assigned work items: %w", err)
	}

	res := ScoreContact(sig)
	if err := s.store.Contacts().UpdateHealth(ctx, contactID, res.Score, res.NotesText()); err != nil {
		return nil, fmt.Errorf("update contact health: %w", err)
	}
	recomputes.WithLabelValues("contact").Inc()
	s.log.Debug().Str("contact_id", contactID).Int("score", res.Score).Msg("contact health updated")
	return &res, nil
}
