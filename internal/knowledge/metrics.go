package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var entriesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "knowledge",
	Name:      "entries_created_total",
	Help:      "Knowledge entries written.",
})
