package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
)

func constEmbedder(vec []float32, err error) embeddings.Provider {
	return embeddings.ProviderFunc(func(context.Context, string, string) ([]float32, error) {
		return vec, err
	})
}

func TestUpsert_ReplacesByKey(t *testing.T) {
	ms := memstore.New()
	ix := New(ms.Contexts(), constEmbedder([]float32{1, 0}, nil), 0, zerolog.Nop())
	ctx := context.Background()

	first, err := ix.Upsert(ctx, Doc{Type: model.ContextInteraction, SourceID: "i1", Text: "first", Metadata: map[string]any{"v": 1}})
	require.NoError(t, err)
	second, err := ix.Upsert(ctx, Doc{Type: model.ContextInteraction, SourceID: "i1", Text: "second", Metadata: map[string]any{"v": 2}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := ms.Contexts().List(ctx, model.ContextFilter{Type: model.ContextInteraction})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second", all[0].Text)
	assert.Equal(t, 2, all[0].Metadata["v"])
}

func TestUpsert_DegradedEmbedding(t *testing.T) {
	cases := map[string]embeddings.Provider{
		"error":       constEmbedder(nil, errors.New("boom")),
		"empty":       constEmbedder([]float32{}, nil),
		"unavailable": constEmbedder(nil, llm.ErrModelUnavailable),
		"nil":         nil,
	}
	for name, emb := range cases {
		t.Run(name, func(t *testing.T) {
			ms := memstore.New()
			ix := New(ms.Contexts(), emb, 0, zerolog.Nop())
			ctx := context.Background()

			saved, err := ix.Upsert(ctx, Doc{Type: model.ContextWorkItem, SourceID: "w1", Text: "late task"})
			require.NoError(t, err)
			assert.False(t, saved.HasEmbedding())

			matches, err := ms.Contexts().Match(ctx, model.MatchQuery{Embedding: []float32{1, 0}, Count: 5})
			require.NoError(t, err)
			assert.Empty(t, matches)
		})
	}
}

func TestUpsert_TruncatesBeforeEmbedding(t *testing.T) {
	var embedded string
	emb := embeddings.ProviderFunc(func(_ context.Context, text, taskType string) ([]float32, error) {
		embedded = text
		assert.Equal(t, llm.TaskRetrievalDocument, taskType)
		return []float32{1}, nil
	})
	ix := New(memstore.New().Contexts(), emb, 5, zerolog.Nop())

	saved, err := ix.Upsert(context.Background(), Doc{Type: model.ContextNote, SourceID: "n1", Text: "ñandú-largo"})
	require.NoError(t, err)
	assert.Equal(t, "ñandú", saved.Text)
	assert.Equal(t, "ñandú", embedded)
}

func TestUpsert_Validation(t *testing.T) {
	ix := New(memstore.New().Contexts(), nil, 0, zerolog.Nop())
	_, err := ix.Upsert(context.Background(), Doc{Type: model.ContextNote, SourceID: "n1"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestInteractionText(t *testing.T) {
	in := &model.Interaction{
		ID:         "i1",
		Channel:    model.ChannelEmail,
		OccurredAt: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		Notes:      "Necesitamos propuesta",
	}
	f := &model.Facts{
		Summary:      "Cliente pide propuesta",
		Requirements: []string{"SSO", "API"},
		Risks:        []string{"presupuesto"},
		NextSteps: []model.NextStep{
			{Title: "Enviar propuesta", DueDate: "2025-02-01"},
			{Title: "Llamar"},
		},
	}
	got := InteractionText(in, f)
	want := strings.Join([]string{
		"Interaction email on 2025-01-15T10:00:00Z",
		"Summary: Cliente pide propuesta",
		"Transcript/Notes:\nNecesitamos propuesta",
		"Requirements: SSO; API",
		"Risks: presupuesto",
		"Next Steps:\n- Enviar propuesta (due 2025-02-01)\n- Llamar",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestWorkItemAndFreshDataText(t *testing.T) {
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	w := &model.WorkItem{
		Title:       "Enviar propuesta",
		Status:      model.StatusPending,
		Description: "Propuesta comercial",
		DueDate:     &due,
		Data:        map[string]any{"requirements": []any{"SSO"}, "notes": "urgente"},
	}
	assert.Equal(t,
		"Work Item \"Enviar propuesta\" (pending)\nDescription: Propuesta comercial\nAnalysis: late\nRequirements: SSO\nNotes: urgente\nDue Date: 2025-03-01T00:00:00Z",
		WorkItemText(w, "late"))

	fd := &model.FreshData{Topic: "funding", Title: "Serie B", Tags: []string{"finance", "growth"}}
	assert.Equal(t, "Signal about funding from unknown source\nTitle: Serie B\nTags: finance, growth", FreshDataText(fd))
}

func TestIndexInteraction_Metadata(t *testing.T) {
	ms := memstore.New()
	ix := New(ms.Contexts(), nil, 0, zerolog.Nop())
	in := &model.Interaction{ID: "i9", Channel: model.ChannelCall, CompanyID: "co", ContactID: "ct"}

	saved, err := ix.IndexInteraction(context.Background(), in, &model.Facts{Urgency: model.UrgencyHigh, Sentiment: model.SentimentNegative})
	require.NoError(t, err)
	assert.Equal(t, "co", saved.CompanyID)
	assert.Equal(t, "ct", saved.ContactID)
	assert.Equal(t, "high", saved.Metadata["urgency"])
	assert.Equal(t, "negative", saved.Metadata["sentiment"])
	assert.Equal(t, "interaction", saved.Metadata["source"])
}
