package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

func TestScoreBounds(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Hour)
	for alerts := 0; alerts <= 20; alerts++ {
		for overdue := 0; overdue <= 20; overdue++ {
			for _, interactions := range []int{0, 3} {
				r := ScoreCompany(CompanySignals{OpenAlerts: alerts, OverdueWorkItems: overdue, RecentInteractions: interactions})
				if r.Score < 0 || r.Score > 100 {
					t.Fatalf("company score %d out of range (alerts=%d overdue=%d)", r.Score, alerts, overdue)
				}
				var last *time.Time
				if interactions > 0 {
					last = &recent
				}
				c := ScoreContact(ContactSignals{OpenAlerts: alerts, OpenWorkItems: overdue, RecentInteractions: interactions, LastInteractionAt: last, Now: now})
				if c.Score < 0 || c.Score > 100 {
					t.Fatalf("contact score %d out of range (alerts=%d work=%d)", c.Score, alerts, overdue)
				}
			}
		}
	}
}

func TestScoreCompany(t *testing.T) {
	r := ScoreCompany(CompanySignals{OpenAlerts: 1, OverdueWorkItems: 2, RecentInteractions: 0, BudgetedInteractions: 0})
	assert.Equal(t, 100-15-20-10-5, r.Score)
	assert.Equal(t,
		"Sin interacciones en los últimos 30 días; Alertas abiertas: 1; Work items vencidos: 2; Sin oportunidades con presupuesto activo",
		r.NotesText())

	healthy := ScoreCompany(CompanySignals{RecentInteractions: 4, BudgetedInteractions: 1})
	assert.Equal(t, 100, healthy.Score)
	assert.Equal(t, "4 interacciones en 30 días; Oportunidades activas: 1", healthy.NotesText())
}

func TestScoreContact(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	never := ScoreContact(ContactSignals{Now: now})
	assert.Equal(t, 70, never.Score)
	assert.Equal(t, "Nunca se ha interactuado con este contacto; Sin interacciones en los últimos 30 días", never.NotesText())

	stale := now.Add(-25 * day)
	r := ScoreContact(ContactSignals{Now: now, LastInteractionAt: &stale, RecentInteractions: 1, OpenAlerts: 2, OpenWorkItems: 7})
	assert.Equal(t, 100-10-15-20, r.Score)

	fresh := now.Add(-2 * day)
	r = ScoreContact(ContactSignals{Now: now, LastInteractionAt: &fresh, RecentInteractions: 1, OpenWorkItems: 1})
	assert.Equal(t, 95, r.Score)
}

func TestScoreDeterministic(t *testing.T) {
	sig := CompanySignals{OpenAlerts: 3, OverdueWorkItems: 1, RecentInteractions: 2}
	assert.Equal(t, ScoreCompany(sig), ScoreCompany(sig))
}

func TestComputeCompany_PersistsScore(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	co, err := ms.Companies().Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	_, err = ms.WorkItems().Create(ctx, &model.WorkItem{Title: "late", CompanyID: co.ID, DueDate: &past})
	require.NoError(t, err)
	_, err = ms.Alerts().Insert(ctx, &model.Alert{EntityType: model.EntityWorkItem, EntityID: "w", CompanyID: co.ID})
	require.NoError(t, err)
	budget := 1000.0
	_, err = ms.Interactions().Create(ctx, &model.Interaction{CompanyID: co.ID, Budget: &budget})
	require.NoError(t, err)

	s := New(ms, zerolog.Nop())
	res, err := s.ComputeCompany(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, 100-15-10, res.Score)
	require.NotNil(t, res.LastInteractionAt)

	got, err := ms.Companies().Get(ctx, co.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HealthScore)
	assert.Equal(t, res.Score, *got.HealthScore)
	assert.Equal(t, res.NotesText(), got.HealthNotes)

	// Recomputing without changes is idempotent.
	again, err := s.ComputeCompany(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Score, again.Score)
}

func TestComputeContact_Missing(t *testing.T) {
	s := New(memstore.New(), zerolog.Nop())
	_, err := s.ComputeContact(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecomputer_RunsInBackground(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	ct, err := ms.Contacts().Create(ctx, &model.Contact{Name: "Ana"})
	require.NoError(t, err)

	q := taskqueue.New(taskqueue.Config{Shards: 1, MaxAttempts: 1}, zerolog.Nop())
	defer q.Stop()
	r := NewRecomputer(New(ms, zerolog.Nop()), q)

	r.Contact(context.Background(), ct.ID)
	r.Contact(context.Background(), "")
	require.NoError(t, q.Barrier(ctx, "contact:"+ct.ID))

	got, err := ms.Contacts().Get(ctx, ct.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HealthScore)
	assert.Equal(t, 70, *got.HealthScore)
}
