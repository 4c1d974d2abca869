package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "scheduler",
		Name:      "overdue_sweeps_total",
		Help:      "Overdue sweeps, by outcome.",
	}, []string{"outcome"})

	swept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "scheduler",
		Name:      "overdue_items_analysed_total",
		Help:      "Work items re-analysed by the overdue sweep.",
	})
)
