package crm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workItemsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "crm",
	Name:      "work_items_created_total",
	Help:      "Work items created through the manual endpoint.",
})
