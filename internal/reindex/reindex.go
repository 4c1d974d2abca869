// Package reindex rebuilds search contexts by re-running the analyzer over
// stored records.
package reindex

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Target names what to rebuild.
type Target string

const (
	TargetInteractions Target = "interactions"
	TargetWorkItems    Target = "work_items"
	TargetFreshData    Target = "fresh_data"
	TargetAll          Target = "all"
)

// Options bound a run. Limit is per record type, capped at 500.
type Options struct {
	Limit     int    `json:"limit,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
}

// Result counts processed records per type.
type Result struct {
	Interactions int `json:"interactions"`
	WorkItems    int `json:"workItems"`
	FreshData    int `json:"freshData"`
}

// Processed is the total across types.
func (r Result) Processed() int { return r.Interactions + r.WorkItems + r.FreshData }

// Batcher is the analyzer capability reindexing needs.
type Batcher interface {
	Batch(ctx context.Context, kind analyzer.Kind, opts store.ListOptions) (int, error)
}

type Reindexer struct {
	analyzer Batcher
	log      zerolog.Logger
}

func New(a Batcher, log zerolog.Logger) *Reindexer {
	return &Reindexer{analyzer: a, log: log.With().Str("component", "reindex").Logger()}
}

func (r *Reindexer) Interactions(ctx context.Context, opts Options) (int, error) {
	return r.run(ctx, analyzer.KindInteraction, opts)
}

func (r *Reindexer) WorkItems(ctx context.Context, opts Options) (int, error) {
	return r.run(ctx, analyzer.KindWorkItem, opts)
}

func (r *Reindexer) FreshData(ctx context.Context, opts Options) (int, error) {
	return r.run(ctx, analyzer.KindFreshData, opts)
}

// All rebuilds the three indexed record types concurrently.
func (r *Reindexer) All(ctx context.Context, opts Options) (Result, error) {
	var res Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.Interactions, err = r.Interactions(gctx, opts)
		return err
	})
	g.Go(func() (err error) {
		res.WorkItems, err = r.WorkItems(gctx, opts)
		return err
	})
	g.Go(func() (err error) {
		res.FreshData, err = r.FreshData(gctx, opts)
		return err
	})
	err := g.Wait()
	return res, err
}

// Run dispatches on target.
func (r *Reindexer) Run(ctx context.Context, target Target, opts Options) (Result, error) {
	var (
		res Result
		err error
	)
	switch target {
	case TargetInteractions:
		res.Interactions, err = r.Interactions(ctx, opts)
	case TargetWorkItems:
		res.WorkItems, err = r.WorkItems(ctx, opts)
	case TargetFreshData:
		res.FreshData, err = r.FreshData(ctx, opts)
	case TargetAll, "":
		res, err = r.All(ctx, opts)
	default:
		return res, fmt.Errorf("%w: unknown reindex target %q", model.ErrValidation, target)
	}
	return res, err
}

func (r *Reindexer) run(ctx context.Context, kind analyzer.Kind, opts Options) (int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	n, err := r.analyzer.Batch(ctx, kind, store.ListOptions{Limit: limit, CompanyID: opts.CompanyID})
	r.log.Info().Str("type", string(kind)).Int("processed", n).Err(err).Msg("reindex finished")
	return n, err
}
