package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, embedder).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// Status is a point-in-time view of service health.
type Status struct {
	Healthy    bool            `json:"healthy"`
	Components map[string]bool `json:"components"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// ServiceHealthChecker aggregates component checkers into one service flag.
// Optional checkers are reported but never take the service down; the model
// embedder is optional because the pipeline degrades to heuristics without it.
type ServiceHealthChecker struct {
	healthy  atomic.Int32
	required []HealthChecker
	optional []HealthChecker
	log      zerolog.Logger

	mu   sync.RWMutex
	last Status
}

func NewServiceHealthChecker(log zerolog.Logger, required ...HealthChecker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{required: required, log: log}
	h.healthy.Store(0)
	return h
}

// WithOptional registers checkers that are reported but not gating.
func (h *ServiceHealthChecker) WithOptional(checkers ...HealthChecker) *ServiceHealthChecker {
	h.optional = append(h.optional, checkers...)
	return h
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Status returns the last evaluated snapshot.
func (h *ServiceHealthChecker) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.last
	out.Components = make(map[string]bool, len(h.last.Components))
	for k, v := range h.last.Components {
		out.Components[k] = v
	}
	return out
}

// StartAll launches every component checker and then the aggregator.
func (h *ServiceHealthChecker) StartAll(ctx context.Context, interval time.Duration) {
	for _, c := range h.required {
		go c.Start(ctx, interval)
	}
	for _, c := range h.optional {
		go c.Start(ctx, interval)
	}
	go h.Start(ctx, interval)
}

// Start periodically evaluates dependency health and updates the service flag.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(-1)
	eval := func() {
		snap := h.evaluate()
		cur := int32(0)
		if snap.Healthy {
			cur = 1
		}
		h.healthy.Store(cur)
		if cur != prev {
			if cur == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Interface("components", snap.Components).Msg("service health: DOWN")
			}
			prev = cur
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}

func (h *ServiceHealthChecker) evaluate() Status {
	snap := Status{Healthy: true, Components: map[string]bool{}, CheckedAt: time.Now().UTC()}
	for _, c := range h.required {
		ok := c.IsHealthy()
		snap.Components[c.Name()] = ok
		if !ok {
			snap.Healthy = false
		}
	}
	for _, c := range h.optional {
		snap.Components[c.Name()] = c.IsHealthy()
	}
	h.mu.Lock()
	h.last = snap
	h.mu.Unlock()
	return snap
}
