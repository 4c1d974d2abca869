// Package retrieval answers questions over the indexed contexts: plain
// semantic search and a grounded chat that can also act on the CRM.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	defaultSearchLimit = 8
	defaultTopK        = 5
	maxMatches         = 20
)

// Responder generates grounded chat answers.
type Responder interface {
	Available() bool
	GenerateResponse(ctx context.Context, in llm.ChatRequest) (string, error)
}

// AlertService is the alert surface chat tools and actions use.
type AlertService interface {
	List(ctx context.Context, f model.AlertFilter) (*model.AlertPage, error)
	ResolveByID(ctx context.Context, id string) error
}

type Service struct {
	store     store.Store
	embedder  embeddings.Provider
	responder Responder
	alerts    AlertService
	dispatch  Dispatcher
	log       zerolog.Logger
}

func New(st store.Store, embedder embeddings.Provider, responder Responder, alerts AlertService, log zerolog.Logger) *Service {
	return &Service{
		store:     st,
		embedder:  embedder,
		responder: responder,
		alerts:    alerts,
		log:       log.With().Str("component", "retrieval").Logger(),
	}
}

type SearchRequest struct {
	Query     string `json:"query"`
	Type      string `json:"type,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Result is one retrieved context. Similarity is nil for fallback sources.
type Result struct {
	ID         string            `json:"id"`
	Type       model.ContextType `json:"type"`
	SourceID   string            `json:"sourceId"`
	CompanyID  string            `json:"companyId,omitempty"`
	ContactID  string            `json:"contactId,omitempty"`
	Text       string            `json:"text"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Similarity *float64          `json:"similarity"`
	CreatedAt  *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

func fromMatch(m model.ContextMatch) Result {
	c := m.Context
	sim := m.Similarity
	created, updated := c.CreatedAt, c.UpdatedAt
	return Result{
		ID:         c.ID,
		Type:       c.Type,
		SourceID:   c.SourceID,
		CompanyID:  c.CompanyID,
		ContactID:  c.ContactID,
		Text:       c.Text,
		Metadata:   c.Metadata,
		Similarity: &sim,
		CreatedAt:  &created,
		UpdatedAt:  &updated,
	}
}

// Search embeds the query and returns the nearest contexts. Unlike indexing,
// search cannot degrade: a missing or empty embedding is an error.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query es requerido", model.ErrValidation)
	}
	var typ model.ContextType
	if req.Type != "" {
		t, ok := model.ParseContextType(req.Type)
		if !ok {
			return nil, fmt.Errorf("%w: unknown context type %q", model.ErrValidation, req.Type)
		}
		typ = t
	}
	if s.embedder == nil {
		return nil, llm.ErrModelUnavailable
	}
	vec, err := s.embedder.Embed(ctx, query, llm.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, llm.ErrEmptyEmbedding
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	matches, err := s.store.Contexts().Match(ctx, model.MatchQuery{
		Embedding: vec,
		Count:     min(limit, maxMatches),
		Type:      typ,
		CompanyID: req.CompanyID,
		ContactID: req.ContactID,
	})
	if err != nil {
		return nil, fmt.Errorf("match contexts: %w", err)
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = fromMatch(m)
	}
	searches.WithLabelValues(outcomeLabel(len(out))).Inc()
	return out, nil
}

// Contexts lists indexed contexts without semantic ranking.
func (s *Service) Contexts(ctx context.Context, f model.ContextFilter) ([]*model.AiContext, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.store.Contexts().List(ctx, f)
}

func outcomeLabel(n int) string {
	if n == 0 {
		return "empty"
	}
	return "hits"
}
