package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "retrieval",
		Name:      "searches_total",
		Help:      "Semantic searches, by whether anything matched.",
	}, []string{"outcome"})

	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "retrieval",
		Name:      "chat_turns_total",
		Help:      "Chat turns, by how they were answered.",
	}, []string{"outcome"})
)
