package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
)

func (a *Analyzer) analyzeInteraction(ctx context.Context, in *model.Interaction) (*Output, error) {
	log := a.log.With().Str("interaction_id", in.ID).Logger()
	out := &Output{Type: KindInteraction, ID: in.ID, Method: MethodHeuristic}
	var errs []error

	// 1. Structured extraction, heuristics when unavailable or unusable.
	extracted, modelErr := a.extract(ctx, in)
	if modelErr != nil {
		out.ModelError = modelErrorText(modelErr)
		if errors.Is(modelErr, llm.ErrInvalidCredential) {
			log.Error().Err(modelErr).Msg("model credential rejected, using heuristics")
			errs = append(errs, modelErr)
		} else {
			log.Warn().Err(modelErr).Msg("structured extraction failed, using heuristics")
		}
	}
	if extracted != nil {
		out.Method = MethodModel
	}
	facts := mergeFacts(in, extracted)
	out.Facts = facts
	out.Summary = facts.Summary

	// 2. Audit.
	a.appendJob(ctx, in, out)

	// 3. Backfill the source record.
	if extracted != nil {
		if patch := backfill(extracted); !patch.Empty() {
			if err := a.store.Interactions().ApplyAnalysis(ctx, in.ID, patch); err != nil {
				log.Error().Err(err).Msg("interaction backfill failed")
				errs = append(errs, fmt.Errorf("update interaction %s: %w", in.ID, err))
			}
		}
	}

	// 4. Derived work items.
	out.GeneratedWorkItems = a.deriveWorkItems(ctx, in, facts.NextSteps)

	// 5. Alert decision.
	now := a.now()
	overdue := firstOverdue(facts.NextSteps, now)
	raise := facts.Sentiment == model.SentimentNegative || isUrgent(extracted) || overdue != nil
	var urgency model.Urgency
	if extracted != nil {
		urgency = extracted.Urgency
	}
	message := fmt.Sprintf("Interacción con sentimiento %s y urgencia %s", facts.Sentiment, facts.Urgency)
	if overdue != nil {
		message = "Seguimiento vencido: " + overdue.Title
	}
	a.alert(ctx, out, raise, alerts.Request{
		EntityType: model.EntityInteraction,
		EntityID:   in.ID,
		Severity:   alerts.InteractionSeverity(urgency, facts.Sentiment),
		Message:    message,
		CompanyID:  in.CompanyID,
		ContactID:  in.ContactID,
		Data: map[string]any{
			"sentiment":  string(facts.Sentiment),
			"urgency":    string(urgency),
			"next_steps": facts.NextSteps,
		},
	})

	// 6. Search context.
	c, err := a.indexer.IndexInteraction(ctx, in, facts)
	a.indexed(out, c, err, in.ID)

	// 7. Contact sentiment and health.
	if in.ContactID != "" {
		if err := a.store.Contacts().Touch(ctx, in.ContactID, facts.Sentiment, now.UTC()); err != nil {
			log.Warn().Err(err).Str("contact_id", in.ContactID).Msg("contact sentiment not updated")
		}
		a.health.Contact(ctx, in.ContactID)
	}
	a.health.Company(ctx, in.CompanyID)

	return out, errors.Join(errs...)
}

// extract returns nil facts and nil error when the model is simply not
// configured or there is nothing to analyse.
func (a *Analyzer) extract(ctx context.Context, in *model.Interaction) (*model.Facts, error) {
	if a.model == nil || !a.model.Available() || in.Notes == "" {
		return nil, nil
	}
	participants := in.Participants
	if participants == nil {
		participants = []string{}
	}
	f, err := a.model.ExtractText(ctx, llm.TextInput{
		Notes:        in.Notes,
		Channel:      string(in.Channel),
		Participants: participants,
	})
	if errors.Is(err, llm.ErrModelUnavailable) {
		return nil, nil
	}
	return f, err
}

// mergeFacts fills every field the pipeline relies on, taking extracted
// values when present and heuristics otherwise.
func mergeFacts(in *model.Interaction, f *model.Facts) *model.Facts {
	out := model.Facts{}
	if f != nil {
		out = *f
	}
	if out.Summary == "" {
		out.Summary = heuristicSummary(in)
	}
	if out.Sentiment == "" {
		out.Sentiment = HeuristicSentiment(in.Notes)
	}
	if out.Urgency == "" {
		out.Urgency = model.UrgencyMedium
	}
	if out.InteractionType == "" {
		out.InteractionType = "other"
	}
	if f == nil || f.NextSteps == nil {
		out.NextSteps = heuristicNextSteps(in.Deadline)
	}
	for _, l := range []*[]string{&out.Requirements, &out.KPIs, &out.Topics, &out.Risks, &out.Opportunities} {
		if *l == nil {
			*l = []string{}
		}
	}
	return &out
}

func backfill(f *model.Facts) model.InteractionPatch {
	var p model.InteractionPatch
	if f.Budget != nil && *f.Budget != 0 {
		p.Budget = f.Budget
		cur := "USD"
		if f.Currency != nil && *f.Currency != "" {
			cur = *f.Currency
		}
		p.Currency = &cur
	}
	if len(f.Requirements) > 0 {
		p.Requirements = f.Requirements
	}
	if len(f.KPIs) > 0 {
		p.KPIs = f.KPIs
	}
	if d, ok := model.EarliestDue(f.NextSteps); ok {
		p.Deadline = &d
	}
	return p
}

func isUrgent(f *model.Facts) bool {
	return f != nil && (f.Urgency == model.UrgencyHigh || f.Urgency == model.UrgencyCritical)
}

func firstOverdue(steps []model.NextStep, now time.Time) *model.NextStep {
	for i := range steps {
		if d, ok := steps[i].Due(); ok && d.Before(now) {
			return &steps[i]
		}
	}
	return nil
}

// deriveWorkItems creates one pending work item per titled next step.
// A step already materialised for this interaction is not duplicated.
func (a *Analyzer) deriveWorkItems(ctx context.Context, in *model.Interaction, steps []model.NextStep) []string {
	channel := string(in.Channel)
	if channel == "" {
		channel = string(model.ChannelOther)
	}
	var ids []string
	for _, st := range steps {
		if st.Title == "" {
			continue
		}
		existing, err := a.store.WorkItems().FindBySource(ctx, in.ID, st.Title)
		if err == nil {
			a.log.Debug().Str("work_item_id", existing.ID).Str("interaction_id", in.ID).Msg("derived work item already exists")
			continue
		}
		if !errors.Is(err, model.ErrNotFound) {
			a.log.Warn().Err(err).Str("interaction_id", in.ID).Msg("derived work item lookup failed")
			continue
		}

		w := &model.WorkItem{
			Title:             st.Title,
			Description:       "Generado automáticamente desde interacción " + channel,
			Status:            model.StatusPending,
			Priority:          st.MappedPriority(),
			OwnerContactID:    in.ContactID,
			AssigneeContactID: in.ContactID,
			CompanyID:         in.CompanyID,
			Data: map[string]any{
				"source_interaction_id": in.ID,
				"source_channel":        channel,
				"auto_generated":        true,
			},
		}
		if d, ok := st.Due(); ok {
			w.DueDate = &d
		}
		created, err := a.store.WorkItems().Create(ctx, w)
		if err != nil {
			a.log.Error().Err(err).Str("interaction_id", in.ID).Str("title", st.Title).Msg("derived work item not created")
			continue
		}
		workItemsDerived.Inc()
		ids = append(ids, created.ID)
		if a.dispatch != nil {
			a.dispatch.Dispatch(ctx, string(KindWorkItem), created.ID)
		}
	}
	return ids
}
