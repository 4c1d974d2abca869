package storagewatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "storagewatch",
		Name:      "files_total",
		Help:      "Media files handled by the storage watcher, by kind and outcome.",
	}, []string{"kind", "outcome"})

	scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "storagewatch",
		Name:      "scans_total",
		Help:      "Bucket scans, by outcome.",
	}, []string{"outcome"})
)
