package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "alerts",
		Name:      "opened_total",
		Help:      "Alerts opened, by entity type and severity.",
	}, []string{"entity_type", "severity"})

	alertsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "alerts",
		Name:      "resolved_total",
		Help:      "Alerts resolved, by entity type (manual for resolve-by-id).",
	}, []string{"entity_type"})
)
