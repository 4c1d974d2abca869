package llm

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zappy",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Model calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	modelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zappy",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Model call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func observe(op string, start time.Time, err error) {
	modelLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	modelCalls.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	var transient *TransientError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.As(err, &transient):
		return "unavailable"
	default:
		return "error"
	}
}
