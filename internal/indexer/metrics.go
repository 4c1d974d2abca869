package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// embedding is ok, degraded (call failed) or none (no embedder configured).
var contextsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "indexer",
	Name:      "contexts_total",
	Help:      "Contexts upserted, by type and embedding outcome.",
}, []string{"type", "embedding"})
