package indexer

import (
	"context"
	"fmt"
	"strings"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

type sections []string

func (s *sections) add(format string, args ...any) { *s = append(*s, fmt.Sprintf(format, args...)) }

func (s *sections) list(label string, items []string, sep string) {
	if len(items) > 0 {
		s.add("%s: %s", label, strings.Join(items, sep))
	}
}

func (s sections) String() string { return strings.Join(s, "\n") }

// InteractionText renders the interaction narrative plus its extracted facts.
func InteractionText(in *model.Interaction, f *model.Facts) string {
	if f == nil {
		f = &model.Facts{}
	}
	channel := string(in.Channel)
	if channel == "" {
		channel = "unknown"
	}
	var s sections
	s.add("Interaction %s on %s", channel, formatTime(in.OccurredAt))
	if f.Summary != "" {
		s.add("Summary: %s", f.Summary)
	}
	if in.Notes != "" {
		s.add("Transcript/Notes:\n%s", in.Notes)
	}
	s.list("Requirements", f.Requirements, "; ")
	s.list("KPIs", f.KPIs, "; ")
	s.list("Opportunities", f.Opportunities, "; ")
	s.list("Risks", f.Risks, "; ")
	if len(f.NextSteps) > 0 {
		lines := make([]string, 0, len(f.NextSteps))
		for _, st := range f.NextSteps {
			line := "- " + st.Title
			if st.DueDate != "" {
				line += " (due " + st.DueDate + ")"
			}
			lines = append(lines, line)
		}
		s.add("Next Steps:\n%s", strings.Join(lines, "\n"))
	}
	return s.String()
}

// IndexInteraction upserts the interaction context.
func (ix *Indexer) IndexInteraction(ctx context.Context, in *model.Interaction, f *model.Facts) (*model.AiContext, error) {
	if f == nil {
		f = &model.Facts{}
	}
	steps := f.NextSteps
	if steps == nil {
		steps = []model.NextStep{}
	}
	topics := f.Topics
	if topics == nil {
		topics = []string{}
	}
	return ix.Upsert(ctx, Doc{
		Type:      model.ContextInteraction,
		SourceID:  in.ID,
		Text:      InteractionText(in, f),
		CompanyID: in.CompanyID,
		ContactID: in.ContactID,
		Metadata: map[string]any{
			"channel":     string(in.Channel),
			"occurred_at": formatTime(in.OccurredAt),
			"next_steps":  steps,
			"topics":      topics,
			"urgency":     string(f.Urgency),
			"sentiment":   string(f.Sentiment),
			"source":      "interaction",
		},
	})
}

// WorkItemText renders a work item. summary is the pipeline's one-line verdict.
func WorkItemText(w *model.WorkItem, summary string) string {
	var s sections
	s.add("Work Item %q (%s)", w.Title, w.Status)
	if w.Description != "" {
		s.add("Description: %s", w.Description)
	}
	if summary != "" {
		s.add("Analysis: %s", summary)
	}
	s.list("Requirements", stringList(w.Data["requirements"]), "; ")
	s.list("KPIs", stringList(w.Data["kpis"]), "; ")
	if notes, ok := w.Data["notes"].(string); ok && notes != "" {
		s.add("Notes: %s", notes)
	}
	if w.DueDate != nil {
		s.add("Due Date: %s", formatTime(*w.DueDate))
	}
	return s.String()
}

func (ix *Indexer) IndexWorkItem(ctx context.Context, w *model.WorkItem, summary string) (*model.AiContext, error) {
	return ix.Upsert(ctx, Doc{
		Type:      model.ContextWorkItem,
		SourceID:  w.ID,
		Text:      WorkItemText(w, summary),
		CompanyID: w.CompanyID,
		ContactID: w.ResponsibleContact(),
		Metadata: map[string]any{
			"status":              string(w.Status),
			"priority":            string(w.Priority),
			"due_date":            timeOrNil(w.DueDate),
			"company_id":          w.CompanyID,
			"assignee_contact_id": w.AssigneeContactID,
			"source":              "work_item",
		},
	})
}

// FreshDataText renders an external signal.
func FreshDataText(fd *model.FreshData) string {
	topic, source := fd.Topic, fd.Source
	if topic == "" {
		topic = "unknown topic"
	}
	if source == "" {
		source = "unknown source"
	}
	var s sections
	s.add("Signal about %s from %s", topic, source)
	if fd.Title != "" {
		s.add("Title: %s", fd.Title)
	}
	if fd.Summary != "" {
		s.add("Summary: %s", fd.Summary)
	}
	s.list("Tags", fd.Tags, ", ")
	return s.String()
}

func (ix *Indexer) IndexFreshData(ctx context.Context, fd *model.FreshData, analysis map[string]any) (*model.AiContext, error) {
	tags := fd.Tags
	if tags == nil {
		tags = []string{}
	}
	return ix.Upsert(ctx, Doc{
		Type:      model.ContextFreshData,
		SourceID:  fd.ID,
		Text:      FreshDataText(fd),
		CompanyID: fd.CompanyID,
		Metadata: map[string]any{
			"topic":        fd.Topic,
			"source":       fd.Source,
			"source_url":   fd.SourceURL,
			"published_at": timeOrNil(fd.PublishedAt),
			"detected_at":  timeOrNil(fd.DetectedAt),
			"tags":         tags,
			"analysis":     analysis,
		},
	})
}

// IndexKnowledge upserts a knowledge-base entry.
func (ix *Indexer) IndexKnowledge(ctx context.Context, e *model.KnowledgeEntry) (*model.AiContext, error) {
	meta := map[string]any{"title": e.Title, "source": "knowledge"}
	for k, v := range e.Metadata {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	return ix.Upsert(ctx, Doc{
		Type:      model.ContextKnowledge,
		SourceID:  e.ID,
		Text:      e.Title + "\n\n" + e.Content,
		CompanyID: e.CompanyID,
		Metadata:  meta,
	})
}

// IndexNote upserts a manual note recorded as an interaction.
func (ix *Indexer) IndexNote(ctx context.Context, in *model.Interaction, author string) (*model.AiContext, error) {
	if author == "" {
		author = "unknown"
	}
	return ix.Upsert(ctx, Doc{
		Type:      model.ContextNote,
		SourceID:  in.ID,
		Text:      fmt.Sprintf("Note by %s on %s\n%s", author, formatTime(in.OccurredAt), in.Notes),
		CompanyID: in.CompanyID,
		ContactID: in.ContactID,
		Metadata: map[string]any{
			"author":      author,
			"occurred_at": formatTime(in.OccurredAt),
			"source":      "note",
		},
	})
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
