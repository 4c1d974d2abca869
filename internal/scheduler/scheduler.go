// Package scheduler runs the cron-driven overdue sweep. A work item turning
// late is time-driven and produces no change event, so the sweep re-runs the
// work-item pipeline for items whose due date passed since the last run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	sweepBatch      = 1000
	initialLookback = 24 * time.Hour
)

// Analyzer runs a record through its pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, rec analyzer.Record) (*analyzer.Output, error)
}

type Sweeper struct {
	items    store.WorkItems
	analyzer Analyzer
	now      func() time.Time
	batch    int
	log      zerolog.Logger

	mu   sync.Mutex
	last time.Time

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(items store.WorkItems, an Analyzer, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		items:    items,
		analyzer: an,
		now:      time.Now,
		batch:    sweepBatch,
		log:      log.With().Str("component", "overdue-sweep").Logger(),
	}
}

// Start registers the sweep on a cron schedule ("@every 15m", "*/5 * * * *").
// An empty schedule disables it. Calling Start twice is a no-op.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		s.log.Info().Msg("overdue sweep disabled")
		return nil
	}
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid overdue sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", schedule).Msg("overdue sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) run() {
	if _, err := s.Sweep(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("overdue sweep failed")
	}
}

// Sweep analyses every non-completed work item whose due date fell between
// the previous sweep and now, and returns how many were analysed. The first
// sweep looks back one day. Sweeps never overlap. Full batches are paged by
// due date and each item is analysed at most once per sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	to := s.now()
	from := s.last
	if from.IsZero() {
		from = to.Add(-initialLookback)
	}

	seen := make(map[string]struct{})
	n := 0
	for cursor := from; ; {
		items, err := s.items.ListOverdueSince(ctx, cursor, to, s.batch)
		if err != nil {
			sweeps.WithLabelValues("error").Inc()
			return n, fmt.Errorf("list overdue work items: %w", err)
		}
		for _, w := range items {
			if _, ok := seen[w.ID]; ok {
				continue
			}
			seen[w.ID] = struct{}{}
			if err := ctx.Err(); err != nil {
				return n, err
			}
			if _, err := s.analyzer.Analyze(ctx, analyzer.WorkItemRecord{Row: w}); err != nil {
				s.log.Warn().Err(err).Str("work_item_id", w.ID).Msg("overdue analysis failed")
				continue
			}
			n++
		}
		if len(items) < s.batch {
			break
		}
		next := *items[len(items)-1].DueDate
		if !next.After(cursor) {
			// A full page at a single due date; step past it.
			s.log.Warn().Int("batch", s.batch).Time("due", cursor).Msg("overdue sweep page shares one due date; items beyond the page may wait for their next change")
			next = cursor.Add(time.Microsecond)
		}
		cursor = next
	}

	s.last = to
	sweeps.WithLabelValues("ok").Inc()
	swept.Add(float64(n))
	s.log.Debug().Time("from", from).Time("to", to).Int("analysed", n).Msg("overdue sweep done")
	return n, nil
}
