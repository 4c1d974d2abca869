package mailwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "mailwatch",
		Name:      "messages_total",
		Help:      "Inbox messages handled, by outcome.",
	}, []string{"outcome"})

	polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zappy",
		Subsystem: "mailwatch",
		Name:      "polls_total",
		Help:      "Inbox polls, by outcome.",
	}, []string{"outcome"})
)
