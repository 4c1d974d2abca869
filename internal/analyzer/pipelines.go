package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/model"
)

func (a *Analyzer) analyzeWorkItem(ctx context.Context, w *model.WorkItem) *Output {
	late := w.IsLate(a.now())
	summary := fmt.Sprintf("WorkItem %q prioridad %s, estado %s", w.Title, w.Priority, w.Status)
	if late {
		summary += " (atrasado)"
	}
	out := &Output{Type: KindWorkItem, ID: w.ID, Summary: summary, IsLate: &late}
	a.appendJob(ctx, w, out)

	var due any
	if w.DueDate != nil {
		due = w.DueDate.UTC().Format(time.RFC3339)
	}
	a.alert(ctx, out, late, alerts.Request{
		EntityType: model.EntityWorkItem,
		EntityID:   w.ID,
		Severity:   alerts.WorkItemSeverity(w.Priority),
		Message:    "Work item atrasado: " + w.Title,
		CompanyID:  w.CompanyID,
		ContactID:  w.ResponsibleContact(),
		Data: map[string]any{
			"due_date": due,
			"priority": string(w.Priority),
			"status":   string(w.Status),
		},
	})

	c, err := a.indexer.IndexWorkItem(ctx, w, summary)
	a.indexed(out, c, err, w.ID)

	a.health.Company(ctx, w.CompanyID)
	return out
}

// analyzeContact links a contact to its company by exact name. Contacts are
// neither alerted on nor indexed.
func (a *Analyzer) analyzeContact(ctx context.Context, c *model.Contact) *Output {
	out := &Output{Type: KindContact, ID: c.ID, Summary: "Contacto " + c.DisplayName()}
	if c.Company != "" && c.CompanyID == "" {
		co, err := a.store.Companies().FindByName(ctx, c.Company)
		switch {
		case err == nil:
			if err := a.store.Contacts().LinkCompany(ctx, c.ID, co.ID); err != nil {
				a.log.Warn().Err(err).Str("contact_id", c.ID).Msg("contact not linked to company")
			} else {
				out.LinkedCompanyID = co.ID
			}
		case !errors.Is(err, model.ErrNotFound):
			a.log.Warn().Err(err).Str("contact_id", c.ID).Str("company", c.Company).Msg("company lookup failed")
		}
	}
	a.appendJob(ctx, c, out)
	return out
}

func (a *Analyzer) analyzeFreshData(ctx context.Context, fd *model.FreshData) *Output {
	label := fd.Title
	if label == "" {
		label = fd.Topic
	}
	if label == "" {
		label = "fresh_data"
	}
	source := fd.Source
	if source == "" {
		source = "desconocido"
	}
	out := &Output{Type: KindFreshData, ID: fd.ID, Summary: fmt.Sprintf("Señal: %s (%s)", label, source)}
	a.appendJob(ctx, fd, out)

	c, err := a.indexer.IndexFreshData(ctx, fd, map[string]any{"summary": out.Summary})
	a.indexed(out, c, err, fd.ID)

	a.health.Company(ctx, fd.CompanyID)
	return out
}
