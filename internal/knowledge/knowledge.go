// Package knowledge manages the knowledge base: free text and fetched web
// resources split into entries, each indexed as a knowledge context.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	DefaultChunkSize   = 1600
	defaultSearchLimit = 5
	maxSearchLimit     = 20
)

// ContextIndexer indexes knowledge entries.
type ContextIndexer interface {
	IndexKnowledge(ctx context.Context, e *model.KnowledgeEntry) (*model.AiContext, error)
}

type Service struct {
	store    store.Store
	indexer  ContextIndexer
	embedder embeddings.Provider
	http     *resty.Client
	log      zerolog.Logger
}

// New builds the service. A nil embedder limits Search to substring matching.
func New(st store.Store, ix ContextIndexer, embedder embeddings.Provider, log zerolog.Logger) *Service {
	return &Service{
		store:    st,
		indexer:  ix,
		embedder: embedder,
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "zappy-knowledge/1.0"),
		log: log.With().Str("component", "knowledge").Logger(),
	}
}

// AddRequest describes text to store. Content longer than ChunkSize is split
// into numbered parts.
type AddRequest struct {
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	CompanyID string         `json:"companyId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ChunkSize int            `json:"chunkSize,omitempty"`
}

// Add stores content as one or more entries and indexes each of them.
// Indexing failures are logged; the entry is kept.
func (s *Service) Add(ctx context.Context, req AddRequest) ([]*model.KnowledgeEntry, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content requerido", model.ErrValidation)
	}
	size := req.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := Chunk(req.Content, size)

	out := make([]*model.KnowledgeEntry, 0, len(chunks))
	for i, chunk := range chunks {
		title := req.Title
		meta := maps.Clone(req.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		if len(chunks) > 1 {
			if title == "" {
				title = "Documento"
			}
			title = fmt.Sprintf("%s (Parte %d)", title, i+1)
			meta["chunk"] = i + 1
			meta["total_chunks"] = len(chunks)
		}
		entry, err := s.store.Knowledge().Create(ctx, &model.KnowledgeEntry{
			Title:     title,
			Content:   chunk,
			CompanyID: req.CompanyID,
			Metadata:  meta,
		})
		if err != nil {
			return out, fmt.Errorf("create knowledge entry %d/%d: %w", i+1, len(chunks), err)
		}
		if _, err := s.indexer.IndexKnowledge(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("knowledge indexing failed")
		}
		out = append(out, entry)
	}
	entriesCreated.Add(float64(len(out)))
	s.log.Info().Int("entries", len(out)).Str("title", req.Title).Msg("knowledge added")
	return out, nil
}

// Chunk splits s into pieces of at most size runes.
func Chunk(s string, size int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		n := min(size, len(r))
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

// ListRequest pages the knowledge base, newest first.
type ListRequest struct {
	CompanyID string
	Search    string
	Limit     int
	Offset    int
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*model.KnowledgeEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Search != "" {
		return s.store.Knowledge().Search(ctx, req.Search, req.CompanyID, req.Limit)
	}
	return s.store.Knowledge().List(ctx, store.ListOptions{CompanyID: req.CompanyID, Limit: req.Limit, Offset: req.Offset})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id requerido", model.ErrValidation)
	}
	return s.store.Knowledge().Delete(ctx, id)
}

// Hit is a knowledge search result. Similarity is set only for semantic matches.
type Hit struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"sourceId,omitempty"`
	CompanyID  string         `json:"companyId,omitempty"`
	ContactID  string         `json:"contactId,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity *float64       `json:"similarity,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Search finds knowledge by meaning when embeddings are available and by
// case-insensitive substring otherwise.
func (s *Service) Search(ctx context.Context, query, companyID string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query requerido", model.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query, llm.TaskRetrievalQuery)
		switch {
		case err == nil && len(vec) > 0:
			return s.semantic(ctx, vec, companyID, limit)
		case err == nil || errors.Is(err, llm.ErrModelUnavailable):
			s.log.Debug().Msg("no query embedding, using text search")
		default:
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	return s.Scan(ctx, query, companyID, limit)
}

func (s *Service) semantic(ctx context.Context, vec []float32, companyID string, limit int) ([]Hit, error) {
	matches, err := s.store.Contexts().Match(ctx, model.MatchQuery{
		Embedding: vec,
		Count:     min(limit, maxSearchLimit),
		Type:      model.ContextKnowledge,
		CompanyID: companyID,
	})
	if err != nil {
		return nil, fmt.Errorf("match knowledge: %w", err)
	}
	out := make([]Hit, 0, len(matches))
	for _, m := range matches {
		sim := m.Similarity
		title, _ := m.Context.Metadata["title"].(string)
		out = append(out, Hit{
			ID:         m.Context.ID,
			SourceID:   m.Context.SourceID,
			CompanyID:  m.Context.CompanyID,
			ContactID:  m.Context.ContactID,
			Title:      title,
			Text:       m.Context.Text,
			Metadata:   m.Context.Metadata,
			Similarity: &sim,
			CreatedAt:  m.Context.CreatedAt,
		})
	}
	return out, nil
}

// Scan is the substring search over entry titles and content.
func (s *Service) Scan(ctx context.Context, query, companyID string, limit int) ([]Hit, error) {
	entries, err := s.store.Knowledge().Search(ctx, query, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	out := make([]Hit, 0, len(entries))
	for _, e := range entries {
		out = append(out, Hit{
			ID:        e.ID,
			SourceID:  e.ID,
			CompanyID: e.CompanyID,
			Title:     e.Title,
			Text:      e.Content,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}
