package analyzer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "analyzer",
		Name:      "records_total",
		Help:      "Records analysed, by type and outcome.",
	}, []string{"type", "outcome"})

	analyzeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zappy",
		Subsystem: "analyzer",
		Name:      "duration_seconds",
		Help:      "Wall time of one pipeline run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	analysisMethod = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "analyzer",
		Name:      "interaction_method_total",
		Help:      "Interaction analyses by method (gemini or heuristic).",
	}, []string{"method"})

	workItemsDerived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "analyzer",
		Name:      "derived_work_items_total",
		Help:      "Work items created from extracted next steps.",
	})
)

func observe(kind Kind, start time.Time, out *Output, err error) {
	outcome := "ok"
	switch {
	case out != nil && out.Unsupported:
		outcome = "unsupported"
		kind = "other"
	case err != nil:
		outcome = "error"
	}
	recordsAnalyzed.WithLabelValues(string(kind), outcome).Inc()
	analyzeDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if out != nil && out.Method != "" {
		analysisMethod.WithLabelValues(out.Method).Inc()
	}
}
