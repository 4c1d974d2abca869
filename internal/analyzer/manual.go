package analyzer

import (
	"context"
	"fmt"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const defaultManualLimit = 10

// ManualRequest selects records to re-analyse: one record when ID is set,
// otherwise the newest Limit records of Type.
type ManualRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// TriggerManual re-runs the pipeline and reports how many records it
// processed. A single record that fails to update aborts the batch.
func (a *Analyzer) TriggerManual(ctx context.Context, req ManualRequest) (int, error) {
	if req.Type == "" {
		req.Type = string(KindInteraction)
	}
	kind, ok := ParseKind(req.Type)
	if !ok {
		return 0, fmt.Errorf("%w: unsupported record type %q", model.ErrValidation, req.Type)
	}

	var recs []Record
	if req.ID != "" {
		rec, err := Load(ctx, a.store, string(kind), req.ID)
		if err != nil {
			return 0, err
		}
		recs = []Record{rec}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = defaultManualLimit
		}
		var err error
		if recs, err = list(ctx, a.store, kind, store.ListOptions{Limit: limit}); err != nil {
			return 0, fmt.Errorf("list %s: %w", kind, err)
		}
	}

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := a.Analyze(ctx, rec); err != nil {
			return i + 1, err
		}
	}
	return len(recs), nil
}

// Batch analyses the newest records of kind, optionally scoped to a company.
// It keeps going past per-record errors and returns the first one.
func (a *Analyzer) Batch(ctx context.Context, kind Kind, opts store.ListOptions) (int, error) {
	recs, err := list(ctx, a.store, kind, opts)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", kind, err)
	}
	var first error
	processed := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := a.Analyze(ctx, rec); err != nil && first == nil {
			first = err
		}
		processed++
	}
	return processed, first
}
