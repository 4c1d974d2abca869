package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Facts is the structured result of analysing an interaction. It is both the
// model's output contract and the pipeline's input.
type Facts struct {
	Summary         string     `json:"summary,omitempty"`
	Sentiment       Sentiment  `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative"`
	Urgency         Urgency    `json:"urgency,omitempty" validate:"omitempty,oneof=low medium high critical"`
	InteractionType string     `json:"interaction_type,omitempty" validate:"omitempty,oneof=inquiry proposal complaint follow_up meeting other"`
	Requirements    []string   `json:"requirements,omitempty"`
	KPIs            []string   `json:"kpis,omitempty"`
	Budget          *float64   `json:"budget,omitempty" validate:"omitempty,gte=0"`
	Currency        *string    `json:"currency,omitempty"`
	NextSteps       []NextStep `json:"next_steps,omitempty" validate:"dive"`
	Topics          []string   `json:"topics,omitempty"`
	Risks           []string   `json:"risks,omitempty"`
	Opportunities   []string   `json:"opportunities,omitempty"`

	// Media analysis extras.
	Transcript        string        `json:"transcript,omitempty"`
	VisualSummary     string        `json:"visual_summary,omitempty"`
	KeyVisualElements []string      `json:"key_visual_elements,omitempty"`
	Contact           *FactsContact `json:"contact,omitempty"`
	Deal              *FactsDeal    `json:"deal,omitempty"`
}

// FactsContact is the counterpart identified in a media recording.
type FactsContact struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
}

// FactsDeal is the commercial context identified in a media recording.
type FactsDeal struct {
	Value    *float64 `json:"value,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// NextStep is an extracted action item.
type NextStep struct {
	Title    string   `json:"title"`
	DueDate  string   `json:"due_date,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

var factsValidator = validator.New()

// ParseFacts decodes and validates model output. Markdown code fences around
// the JSON are tolerated. Any decoding or validation failure is returned
// wrapped in ErrValidation.
func ParseFacts(raw string) (*Facts, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty facts payload", ErrValidation)
	}
	var f Facts
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return nil, fmt.Errorf("%w: decode facts: %v", ErrValidation, err)
	}
	f.normalize()
	if err := factsValidator.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &f, nil
}

func (f *Facts) normalize() {
	f.Sentiment = Sentiment(strings.ToLower(strings.TrimSpace(string(f.Sentiment))))
	f.Urgency = Urgency(strings.ToLower(strings.TrimSpace(string(f.Urgency))))
	f.InteractionType = strings.ToLower(strings.TrimSpace(f.InteractionType))
	for i := range f.NextSteps {
		f.NextSteps[i].Title = strings.TrimSpace(f.NextSteps[i].Title)
		f.NextSteps[i].DueDate = strings.TrimSpace(f.NextSteps[i].DueDate)
		f.NextSteps[i].Priority = Priority(strings.ToLower(strings.TrimSpace(string(f.NextSteps[i].Priority))))
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// Due returns the parsed due date, if present and well formed.
func (n NextStep) Due() (time.Time, bool) {
	return ParseDate(n.DueDate)
}

// MappedPriority applies the work-item priority ladder: critical and high are
// kept, anything else becomes medium.
func (n NextStep) MappedPriority() Priority {
	switch n.Priority {
	case PriorityCritical, PriorityHigh:
		return n.Priority
	default:
		return PriorityMedium
	}
}

// EarliestDue returns the earliest parseable due date across steps.
func EarliestDue(steps []NextStep) (time.Time, bool) {
	var dates []time.Time
	for _, s := range steps {
		if d, ok := s.Due(); ok {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return time.Time{}, false
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates[0], true
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// ParseDate accepts RFC 3339 timestamps and plain calendar dates (as UTC midnight).
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
