package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "ingest",
	Name:      "interactions_total",
	Help:      "Interactions written by ingestion, by channel.",
}, []string{"channel"})
