// Package indexer turns CRM records and their analysis into searchable
// contexts: a bounded text blob, an optional embedding and filter metadata,
// upserted by (type, source_id).
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const DefaultMaxChars = 8000

// Doc is one context to index.
type Doc struct {
	Type      model.ContextType
	SourceID  string
	Text      string
	CompanyID string
	ContactID string
	Metadata  map[string]any
}

// Indexer writes contexts. The embedder may be nil, in which case every
// context is stored without an embedding.
type Indexer struct {
	contexts store.Contexts
	embedder embeddings.Provider
	maxChars int
	log      zerolog.Logger
}

func New(contexts store.Contexts, embedder embeddings.Provider, maxChars int, log zerolog.Logger) *Indexer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Indexer{
		contexts: contexts,
		embedder: embedder,
		maxChars: maxChars,
		log:      log.With().Str("component", "indexer").Logger(),
	}
}

// Upsert truncates the text, embeds it and replaces any prior context with
// the same key. An embedding failure degrades the context instead of
// failing the write.
func (ix *Indexer) Upsert(ctx context.Context, d Doc) (*model.AiContext, error) {
	if d.Type == "" || d.SourceID == "" || d.Text == "" {
		return nil, fmt.Errorf("%w: context type, source id and text are required", model.ErrValidation)
	}
	text := truncate(d.Text, ix.maxChars)

	c := &model.AiContext{
		Type:      d.Type,
		SourceID:  d.SourceID,
		Text:      text,
		Embedding: ix.embed(ctx, d, text),
		Metadata:  d.Metadata,
		CompanyID: d.CompanyID,
		ContactID: d.ContactID,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	saved, err := ix.contexts.Upsert(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("upsert %s context %s: %w", d.Type, d.SourceID, err)
	}
	return saved, nil
}

func (ix *Indexer) embed(ctx context.Context, d Doc, text string) []float32 {
	if ix.embedder == nil {
		contextsIndexed.WithLabelValues(string(d.Type), "none").Inc()
		return nil
	}
	vec, err := ix.embedder.Embed(ctx, text, llm.TaskRetrievalDocument)
	if err == nil && len(vec) == 0 {
		err = llm.ErrEmptyEmbedding
	}
	switch {
	case err == nil:
		contextsIndexed.WithLabelValues(string(d.Type), "ok").Inc()
		return vec
	case errors.Is(err, llm.ErrModelUnavailable):
		contextsIndexed.WithLabelValues(string(d.Type), "none").Inc()
	default:
		contextsIndexed.WithLabelValues(string(d.Type), "degraded").Inc()
		ix.log.Warn().Err(err).
			Str("type", string(d.Type)).
			Str("source_id", d.SourceID).
			Msg("embedding failed, storing context without vector")
	}
	return nil
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.UTC().Format(time.RFC3339)
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
