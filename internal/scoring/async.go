package scoring

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

var recomputes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "scoring",
	Name:      "recomputes_total",
	Help:      "Health scores written, by entity kind.",
}, []string{"kind"})

// Recomputer schedules health recomputes on the task queue, keyed by entity
// so recomputes for one company or contact never overlap. Callers never
// wait for the result.
type Recomputer struct {
	scorer *Scorer
	queue  *taskqueue.Queue
}

func NewRecomputer(scorer *Scorer, queue *taskqueue.Queue) *Recomputer {
	return &Recomputer{scorer: scorer, queue: queue}
}

func (r *Recomputer) Company(ctx context.Context, companyID string) {
	if companyID == "" {
		return
	}
	r.queue.Go(ctx, "company:"+companyID, taskqueue.JobFunc(func(ctx context.Context) error {
		_, err := r.scorer.ComputeCompany(ctx, companyID)
		return permanentIfMissing(err)
	}))
}

func (r *Recomputer) Contact(ctx context.Context, contactID string) {
	if contactID == "" {
		return
	}
	r.queue.Go(ctx, "contact:"+contactID, taskqueue.JobFunc(func(ctx context.Context) error {
		_, err := r.scorer.ComputeContact(ctx, contactID)
		return permanentIfMissing(err)
	}))
}

// A deleted entity will not reappear on retry.
func permanentIfMissing(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return taskqueue.Permanent(err)
	}
	return err
}
